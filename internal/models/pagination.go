package models

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Paginate normalizes a 1-based page and a limit and returns the row offset.
func Paginate(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit, (page - 1) * limit
}
