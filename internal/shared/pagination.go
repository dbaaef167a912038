package shared

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageRequest is the requested page window.
type PageRequest struct {
	Page    int
	PerPage int
}

// Limit returns the SQL LIMIT for the window.
func (p PageRequest) Limit() int {
	return p.normalized().PerPage
}

// Offset returns the SQL OFFSET for the window.
func (p PageRequest) Offset() int {
	n := p.normalized()
	return (n.Page - 1) * n.PerPage
}

func (p PageRequest) normalized() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

// PageFromRequest reads page and per_page query parameters.
func PageFromRequest(r *http.Request) PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return PageRequest{Page: page, PerPage: perPage}.normalized()
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PaginationFor builds metadata from a request window.
func PaginationFor(req PageRequest, total int) Pagination {
	n := req.normalized()
	return NewPagination(n.Page, n.PerPage, total)
}
