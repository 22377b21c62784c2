package domain

// MaxPageLimit caps the page size for all list operations.
const MaxPageLimit = 1000

// Pagination describes the position of a returned page within the full
// result set. NextPage and PrevPage are nil when there is no such page.
type Pagination struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	Limit    int   `json:"limit"`
	NextPage *int  `json:"next_page"`
	PrevPage *int  `json:"prev_page"`
}

// ValidatePage checks page and limit bounds for list operations.
func ValidatePage(page, limit int) error {
	if page < 1 {
		return InvalidPagination("page must be greater than 0")
	}

	if limit < 1 {
		return InvalidPagination("limit must be greater than 0")
	}

	if limit > MaxPageLimit {
		return InvalidPagination("limit must be at most 1000")
	}

	return nil
}

// Offset returns the store offset for a validated page/limit pair.
func Offset(page, limit int) int {
	return (page - 1) * limit
}

// Paginate computes the pagination metadata for a page against the total
// count. Total pages round up, so a partially filled last page still counts.
func Paginate(total int64, page, limit int) Pagination {
	totalPages := int((total + int64(limit) - 1) / int64(limit))

	p := Pagination{Total: total, Page: page, Limit: limit}

	if page < totalPages {
		next := page + 1
		p.NextPage = &next
	}

	if page > 1 {
		prev := page - 1
		p.PrevPage = &prev
	}

	return p
}
