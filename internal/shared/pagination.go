package shared

const (
	// DefaultPageLimit applies when a listing omits or exceeds the limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps a single listing page.
	MaxPageLimit = 200
)

// Pagination contains metadata for offset-paginated listings.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// NormalizePage clamps a requested limit and offset into the accepted range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NewPagination computes pagination metadata.
func NewPagination(limit, offset, total int) Pagination {
	limit, offset = NormalizePage(limit, offset)
	return Pagination{Limit: limit, Offset: offset, Total: total, HasMore: offset+limit < total}
}
