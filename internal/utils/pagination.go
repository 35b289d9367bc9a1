// Package utils provides small helpers shared by the HTTP layer that carry
// no domain logic.
package utils

import "strconv"

// Page bounds shared by the list endpoints.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts s to an int, returning def when s is empty or not a
// valid integer. No trimming is applied.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads raw page and page_size query values and clamps them to
// [1, ∞) and [1, MaxPageSize].
func ParsePage(rawPage, rawSize string) (page, pageSize int) {
	page = AtoiDefault(rawPage, DefaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = AtoiDefault(rawSize, DefaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// TotalPages returns ceil(total/pageSize), or 0 when pageSize is not positive.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
