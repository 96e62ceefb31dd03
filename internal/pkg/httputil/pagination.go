package httputil

import (
	"net/http"
	"strconv"
)

// Pagination is a page request read from ?page= and ?limit=. Page is
// 1-based; Offset is derived for the repository query.
type Pagination struct {
	Page   int
	Limit  int
	Offset int
}

// ParsePagination reads ?page= and ?limit=. Missing or invalid values fall
// back to page 1 and defaultLimit; limit is capped at maxLimit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	q := r.URL.Query()
	p := Pagination{Page: 1, Limit: defaultLimit}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 1 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	p.Offset = (p.Page - 1) * p.Limit
	return p
}

// PageMeta describes where a page sits in the full result set.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// PageResponse is the list envelope: the rows plus their page metadata.
type PageResponse struct {
	Data       any      `json:"data"`
	Pagination PageMeta `json:"pagination"`
}

// Paginated writes a 200 list response for one page out of total rows.
func Paginated(w http.ResponseWriter, data any, p Pagination, total int) {
	OK(w, NewPageResponse(data, p, total))
}

// NewPageResponse wraps data with the metadata for page p of total rows.
// An empty result still reports one page.
func NewPageResponse(data any, p Pagination, total int) PageResponse {
	limit := p.Limit
	if limit < 1 {
		limit = 1
	}
	pages := (total + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	return PageResponse{
		Data: data,
		Pagination: PageMeta{
			Page:       p.Page,
			Limit:      limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    p.Page < pages,
		},
	}
}
