package pagination

import "math"

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 10
	// MaxLimit caps how many rows any page query can request.
	MaxLimit = 100
)

// Params holds page/limit inputs from controllers or services. Pages are
// 1-based.
type Params struct {
	Page  int
	Limit int
}

// Normalize enforces the defaults and the maximum limit.
func (p Params) Normalize() Params {
	return Params{Page: NormalizePage(p.Page), Limit: NormalizeLimit(p.Limit)}
}

// Offset is the number of rows to skip for the normalized page.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizePage clamps the page number to at least 1.
func NormalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// Meta is the page summary returned alongside list results.
type Meta struct {
	Total       int64 `json:"total"`
	Pages       int   `json:"pages"`
	CurrentPage int   `json:"currentPage"`
}

// NewMeta builds the summary for total rows under params.
func NewMeta(total int64, params Params) Meta {
	n := params.Normalize()
	return Meta{
		Total:       total,
		Pages:       int(math.Ceil(float64(total) / float64(n.Limit))),
		CurrentPage: n.Page,
	}
}
