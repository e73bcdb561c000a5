package request

import (
	"net/http"
	"strconv"
)

// Pagination holds 1-indexed page parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 200
)

// ParsePagination extracts page and page_size from query parameters. Out of
// range values fall back to the defaults; pages past the end are clamped by
// the service layer.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Page: 1, PageSize: DefaultPageSize}

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			p.Page = page
		}
	}
	if sizeStr := r.URL.Query().Get("page_size"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			p.PageSize = size
		}
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}
