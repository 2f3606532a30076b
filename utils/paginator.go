package utils

import "strconv"

// PageSize is the fixed number of posts per feed page.
const PageSize = 10

// Pagination describes one page of an ordered feed.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// Paginate resolves a raw page query parameter against a total item count.
// Out-of-range requests clamp instead of erroring: non-numeric or values
// below 1 resolve to the first page, values past the end resolve to the
// last page. The returned offset is ready for an OFFSET/LIMIT query.
func Paginate(rawPage string, total int64, perPage int) (Pagination, int) {
	if perPage <= 0 {
		perPage = PageSize
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	if totalPages < 1 {
		totalPages = 1
	}

	page := 1
	if n, err := strconv.Atoi(rawPage); err == nil && n > 1 {
		page = n
	}
	if page > totalPages {
		page = totalPages
	}

	meta := Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
	return meta, (page - 1) * perPage
}
