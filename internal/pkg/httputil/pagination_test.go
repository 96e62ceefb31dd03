package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Pagination
	}{
		{"defaults", "/", Pagination{Page: 1, Limit: 50, Offset: 0}},
		{"third page", "/?page=3&limit=20", Pagination{Page: 3, Limit: 20, Offset: 40}},
		{"limit capped", "/?page=0&limit=9999", Pagination{Page: 1, Limit: 500, Offset: 0}},
		{"garbage", "/?page=abc&limit=-5", Pagination{Page: 1, Limit: 50, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.query, nil)
			assert.Equal(t, tt.want, ParsePagination(r, 50, 500))
		})
	}
}

func TestNewPageResponse(t *testing.T) {
	resp := NewPageResponse([]int{1, 2}, Pagination{Page: 3, Limit: 20, Offset: 40}, 120)
	assert.Equal(t, PageMeta{Page: 3, Limit: 20, Total: 120, TotalPages: 6, HasMore: true}, resp.Pagination)

	resp = NewPageResponse([]int{}, Pagination{Page: 1, Limit: 50}, 0)
	assert.Equal(t, 1, resp.Pagination.TotalPages)
	assert.False(t, resp.Pagination.HasMore)

	resp = NewPageResponse([]int{}, Pagination{Page: 2, Limit: 50}, 100)
	assert.False(t, resp.Pagination.HasMore, "last page")
}

func TestPaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	Paginated(rec, []string{"a"}, Pagination{Page: 1, Limit: 1}, 2)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data       []string `json:"data"`
		Pagination PageMeta `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"a"}, body.Data)
	assert.Equal(t, 2, body.Pagination.TotalPages)
	assert.True(t, body.Pagination.HasMore)
}
