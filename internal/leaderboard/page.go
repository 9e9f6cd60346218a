package leaderboard

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
	maxPage      = 1_000_000
)

var ErrInvalidPage = errors.New("leaderboard: invalid page")

// Page selects a window of a ranking. Number is 0-based; page n starts
// at rank n*Limit + 1.
type Page struct {
	Number int `json:"page"`
	Limit  int `json:"limit"`
}

// NewPage validates pagination input. A zero limit means DefaultLimit.
func NewPage(number, limit int) (Page, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if number < 0 || number > maxPage {
		return Page{}, fmt.Errorf("%w: page %d", ErrInvalidPage, number)
	}
	if limit < 1 || limit > MaxLimit {
		return Page{}, fmt.Errorf("%w: limit %d (1-%d)", ErrInvalidPage, limit, MaxLimit)
	}
	return Page{Number: number, Limit: limit}, nil
}

// Offset is the number of ranked rows before the page.
func (p Page) Offset() int {
	return p.Number * p.Limit
}

// window walks tree in order and returns the items on page p together
// with the rank of the first one.
func window[T any](tree *btree.BTreeG[T], p Page) (items []T, firstRank int) {
	offset := p.Offset()
	items = make([]T, 0, p.Limit)
	i := 0
	tree.Ascend(func(item T) bool {
		if i >= offset {
			items = append(items, item)
		}
		i++
		return len(items) < p.Limit
	})
	return items, offset + 1
}
