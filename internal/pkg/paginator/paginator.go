package paginator

import (
	"context"
	"fmt"

	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Number     int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	TotalItems int  `json:"total_items"`
	PrevPage   *int `json:"prev_page"`
	NextPage   *int `json:"next_page"`
}

// Entries describes the page for a listing of noun, e.g.
// "Displaying responses 21 - 40 of 45 in total".
func (p *Page[T]) Entries(noun string) string {
	switch {
	case p.TotalItems == 0:
		return fmt.Sprintf("No %ss found", noun)
	case p.TotalItems == 1:
		return fmt.Sprintf("Displaying 1 %s", noun)
	case p.TotalPages <= 1:
		return fmt.Sprintf("Displaying all %d %ss", p.TotalItems, noun)
	case len(p.Items) == 0:
		return fmt.Sprintf("No %ss on page %d of %d", noun, p.Number, p.TotalPages)
	}
	first := (p.Number-1)*p.PerPage + 1
	last := min(first+len(p.Items)-1, p.TotalItems)
	return fmt.Sprintf("Displaying %ss %d - %d of %d in total", noun, first, last, p.TotalItems)
}

type Paginator[T any] interface {
	// Paginate runs query (with `?` placeholders) for the given 1-based page.
	Paginate(ctx context.Context, query string, args []any, page int) (*Page[T], error)
}

type paginatorImpl[T any] struct {
	datastore store.Datastorer[T]
	perPage   int
}

func NewPaginator[T any](ds store.Datastorer[T], perPage int) Paginator[T] {
	if perPage < 1 {
		perPage = 10
	}
	return &paginatorImpl[T]{datastore: ds, perPage: perPage}
}

func (p *paginatorImpl[T]) Paginate(ctx context.Context, query string, args []any, page int) (*Page[T], error) {
	if page < 1 {
		page = 1
	}

	totalItems, err := p.datastore.Count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS total_count", query), args...)
	if err != nil {
		return nil, err
	}
	totalPages := (totalItems + p.perPage - 1) / p.perPage

	pageArgs := append(append([]any(nil), args...), p.perPage, (page-1)*p.perPage)
	items, err := p.datastore.Select(ctx, query+" LIMIT ? OFFSET ?", pageArgs...)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}

	result := &Page[T]{
		Items:      items,
		Number:     page,
		PerPage:    p.perPage,
		TotalPages: totalPages,
		TotalItems: totalItems,
	}
	if page > 1 {
		prev := min(page-1, max(totalPages, 1))
		result.PrevPage = &prev
	}
	if page < totalPages {
		next := page + 1
		result.NextPage = &next
	}
	return result, nil
}
