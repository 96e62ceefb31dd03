// Package template renders per-recipient campaign content. Substitution uses
// the Liquid language so `{{ first_name }}` and filters such as
// `{{ first_name | default: "there" }}` both work; unknown variables always
// render as the empty string.
package template

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// tokenPattern matches a bare `{{ key }}` token for the fallback path.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Renderer substitutes variables into subject, HTML and text bodies. It is
// safe for concurrent use; parsed templates are cached by content hash and
// never mutated after parsing.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // content hash -> *liquid.Template, or parseFailed
}

type parseFailed struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render replaces every `{{ key }}` in tpl with vars[key], or the empty
// string when the key is absent. It never fails: a template Liquid cannot
// parse or evaluate falls back to plain token substitution.
func (r *Renderer) Render(tpl string, vars map[string]string) string {
	if tpl == "" {
		return ""
	}

	parsed := r.parse(tpl)
	if parsed == nil {
		return substitute(tpl, vars)
	}

	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	out, err := parsed.RenderString(bindings)
	if err != nil {
		logger.Debug("template render fell back to substitution", "error", err)
		return substitute(tpl, vars)
	}
	return out
}

func (r *Renderer) parse(tpl string) *liquid.Template {
	sum := sha1.Sum([]byte(tpl))
	key := hex.EncodeToString(sum[:])

	if cached, ok := r.cache.Load(key); ok {
		if t, ok := cached.(*liquid.Template); ok {
			return t
		}
		return nil
	}

	t, err := r.engine.ParseString(tpl)
	if err != nil {
		logger.Debug("template parse failed", "error", err)
		r.cache.Store(key, parseFailed{})
		return nil
	}
	r.cache.Store(key, t)
	return t
}

func substitute(tpl string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(tpl, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		return vars[m[1]]
	})
}

// MergeVars layers per-recipient values over account-wide defaults. Empty
// recipient values never hide a default.
func MergeVars(defaults, recipient map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(recipient))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range recipient {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Content is the rendered output for one recipient.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// RenderRecipient renders a campaign's subject and bodies for one recipient
// and normalizes the HTML for email clients.
func (r *Renderer) RenderRecipient(c *domain.Campaign, rcpt *domain.Recipient, defaults map[string]string) Content {
	vars := MergeVars(defaults, rcpt.TemplateVars())
	return Content{
		Subject: r.Render(c.Subject, vars),
		HTML:    NormalizeHTML(r.Render(c.HTMLBody, vars)),
		Text:    r.Render(c.TextBody, vars),
	}
}
