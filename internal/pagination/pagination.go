// Package pagination implements keyset cursors for list reads.
//
// A cursor is the (sort value, id) pair of the last item on a page. Stores
// order by that same pair, so an unmoved cursor over unchanged data always
// yields the same page.
package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidCursor is returned for malformed or tampered cursors.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrInvalidLimit is returned for a limit outside [1, max].
	ErrInvalidLimit = errors.New("invalid limit")
)

// Cursor is the position after which the next page starts.
type Cursor struct {
	Sort string `json:"s"`
	ID   string `json:"id"`
}

// Query bounds one page read.
type Query struct {
	Limit int
	After *Cursor
}

// Page is one page of results. Next is nil on the last page.
type Page[T any] struct {
	Items   []T
	Next    *Cursor
	HasMore bool
}

// Trim builds a Page from rows fetched with limit+1. The extra row only
// signals that more data exists; the cursor points at the last kept row.
func Trim[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}
	kept := rows[:limit]
	next := key(kept[len(kept)-1])
	return Page[T]{Items: kept, Next: &next, HasMore: true}
}

// ParseLimit parses a limit query value. An empty value yields def.
func ParseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidLimit, raw)
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("%w: %d outside [1, %d]", ErrInvalidLimit, n, max)
	}
	return n, nil
}
