package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"bookstore/pkg/domain"
)

const (
	defaultPerPage = 12
	maxPerPage     = 50

	defaultSearchLimit = 10
	maxSearchLimit     = 50
	minSearchRunes     = 2
)

// ListBooksParams is a raw catalog request. Zero values select defaults.
type ListBooksParams struct {
	Page      int
	PerPage   int
	Category  string
	Search    string
	MinPrice  *float64
	MaxPrice  *float64
	SortBy    string
	SortOrder string
}

// ListBooks returns one page of available books.
func (a *App) ListBooks(ctx context.Context, p ListBooksParams) (domain.BookPage, error) {
	q, page, perPage, err := normalizeListParams(p)
	if err != nil {
		return domain.BookPage{}, err
	}
	books, total, err := a.store.QueryBooks(ctx, q)
	if err != nil {
		return domain.BookPage{}, storageError("query books", err)
	}
	return domain.BookPage{
		Books:   books,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

func normalizeListParams(p ListBooksParams) (domain.BookQuery, int, int, error) {
	page, perPage := p.Page, p.PerPage
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = defaultPerPage
	}
	if page < 1 {
		return domain.BookQuery{}, 0, 0, newError(ErrInvalidInput, "page must be >= 1")
	}
	if perPage < 1 || perPage > maxPerPage {
		return domain.BookQuery{}, 0, 0, newError(ErrInvalidInput, fmt.Sprintf("per_page must be between 1 and %d", maxPerPage))
	}
	// Keeps (page-1)*perPage from overflowing. Pages past the last one stay
	// valid and come back empty.
	if page > math.MaxInt/perPage {
		return domain.BookQuery{}, 0, 0, newError(ErrInvalidInput, "page is out of range")
	}
	if p.MinPrice != nil && (*p.MinPrice < 0 || math.IsNaN(*p.MinPrice)) {
		return domain.BookQuery{}, 0, 0, newError(ErrInvalidInput, "min_price must be >= 0")
	}
	if p.MaxPrice != nil && (*p.MaxPrice < 0 || math.IsNaN(*p.MaxPrice)) {
		return domain.BookQuery{}, 0, 0, newError(ErrInvalidInput, "max_price must be >= 0")
	}

	sortBy, desc := resolveSort(p.SortBy, p.SortOrder)
	return domain.BookQuery{
		Category:   strings.TrimSpace(p.Category),
		Search:     strings.TrimSpace(p.Search),
		MinPrice:   p.MinPrice,
		MaxPrice:   p.MaxPrice,
		SortBy:     sortBy,
		Descending: desc,
		Offset:     (page - 1) * perPage,
		Limit:      perPage,
	}, page, perPage, nil
}

// resolveSort falls back to newest first for unknown keys instead of
// rejecting the request. A known key sorts descending when order is empty or
// "desc", ascending otherwise.
func resolveSort(sortBy, order string) (domain.SortKey, bool) {
	key := domain.SortKey(strings.ToLower(strings.TrimSpace(sortBy)))
	switch key {
	case domain.SortByTitle, domain.SortByAuthor, domain.SortByPrice, domain.SortByCreatedAt:
		order = strings.TrimSpace(order)
		return key, order == "" || strings.EqualFold(order, "desc")
	default:
		return domain.SortByCreatedAt, true
	}
}

func pageCount(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// GetBook returns an available book. Missing and unavailable books are both
// reported as ErrNotFound.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, storageError("get book", err)
	}
	if !ok || !book.Available {
		return domain.Book{}, newError(ErrNotFound, "Book not found")
	}
	return book, nil
}

// SearchBooks matches title or author for autocomplete. limit 0 selects the
// default.
func (a *App) SearchBooks(ctx context.Context, query string, limit int) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchRunes {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("search query must be at least %d characters", minSearchRunes))
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit < 1 || limit > maxSearchLimit {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit))
	}
	books, err := a.store.SearchBooks(ctx, query, limit)
	if err != nil {
		return nil, storageError("search books", err)
	}
	return books, nil
}

// Categories lists non-empty categories of available books with counts.
func (a *App) Categories(ctx context.Context) ([]domain.Category, error) {
	categories, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, storageError("list categories", err)
	}
	return categories, nil
}
