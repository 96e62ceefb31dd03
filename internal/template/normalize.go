package template

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// defaultStyles are applied beneath any author styling so bare semantic
// markup still renders consistently in clients that ignore <style>.
var defaultStyles = []struct {
	selector string
	style    string
}{
	{"p", "margin:0 0 16px 0;line-height:1.5"},
	{"h1", "margin:0 0 16px 0;font-size:28px;line-height:1.2"},
	{"h2", "margin:0 0 14px 0;font-size:22px;line-height:1.25"},
	{"h3", "margin:0 0 12px 0;font-size:18px;line-height:1.3"},
	{"a", "color:#1a73e8;text-decoration:underline"},
	{"img", "max-width:100%;height:auto;border:0"},
	{"blockquote", "margin:0 0 16px 0;padding-left:12px;border-left:3px solid #dddddd"},
	{"table", "border-collapse:collapse"},
	{"strong", "font-weight:bold"},
	{"em", "font-style:italic"},
}

var cssComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

type cssRule struct {
	selectors []string
	decls     string
}

// NormalizeHTML moves <style> rules and default semantic styling into
// inline style attributes. Precedence, lowest first: defaults, <style>
// rules in source order, the element's own style attribute. Blocks holding
// at-rules such as @media are left in place. Input that cannot be parsed is
// returned unchanged.
func NormalizeHTML(src string) string {
	if strings.TrimSpace(src) == "" {
		return src
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}

	inline := map[*html.Node][]string{}
	var order []*html.Node
	add := func(sel *goquery.Selection, decls string) {
		sel.Each(func(_ int, s *goquery.Selection) {
			n := s.Get(0)
			if _, seen := inline[n]; !seen {
				order = append(order, n)
			}
			inline[n] = append(inline[n], decls)
		})
	}

	for _, d := range defaultStyles {
		add(doc.Find(d.selector), d.style)
	}

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		rules, keep := parseCSS(s.Text())
		for _, rule := range rules {
			for _, sel := range rule.selectors {
				add(doc.Find(sel), rule.decls)
			}
		}
		if keep == "" {
			s.Remove()
		} else {
			s.SetText(keep)
		}
	})

	for _, n := range order {
		s := goquery.NewDocumentFromNode(n).Selection
		parts := inline[n]
		if own, ok := s.Attr("style"); ok && strings.TrimSpace(own) != "" {
			parts = append(parts, own)
		}
		s.SetAttr("style", joinDecls(parts))
	}

	if strings.Contains(strings.ToLower(src), "<html") {
		out, err := doc.Html()
		if err != nil {
			return src
		}
		return out
	}

	// Fragments: the parser hoists <style> into <head>, so kept at-rule
	// blocks are re-emitted ahead of the body content.
	var b strings.Builder
	doc.Find("head style").Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			b.WriteString(h)
		}
	})
	body, err := doc.Find("body").Html()
	if err != nil {
		return src
	}
	b.WriteString(body)
	return b.String()
}

// parseCSS splits a stylesheet into inlinable rules. At-rule blocks are
// returned verbatim in keep.
func parseCSS(css string) (rules []cssRule, keep string) {
	css = cssComment.ReplaceAllString(css, "")
	var kept strings.Builder

	for len(strings.TrimSpace(css)) > 0 {
		css = strings.TrimSpace(css)
		open := strings.Index(css, "{")
		if open < 0 {
			break
		}
		head := strings.TrimSpace(css[:open])

		if strings.HasPrefix(head, "@") {
			end := matchBrace(css, open)
			kept.WriteString(css[:end])
			kept.WriteString("\n")
			css = css[end:]
			continue
		}

		closeIdx := strings.Index(css[open:], "}")
		if closeIdx < 0 {
			break
		}
		body := strings.TrimSpace(css[open+1 : open+closeIdx])
		css = css[open+closeIdx+1:]

		var sels []string
		for _, sel := range strings.Split(head, ",") {
			sel = strings.TrimSpace(sel)
			// Pseudo-classes cannot be expressed inline.
			if sel == "" || strings.Contains(sel, ":") {
				continue
			}
			sels = append(sels, sel)
		}
		if len(sels) > 0 && body != "" {
			rules = append(rules, cssRule{selectors: sels, decls: body})
		}
	}
	return rules, strings.TrimSpace(kept.String())
}

// matchBrace returns the index just past the brace closing the one at open.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

func joinDecls(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), ";"))
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(";")
		}
		b.WriteString(p)
	}
	return b.String()
}
