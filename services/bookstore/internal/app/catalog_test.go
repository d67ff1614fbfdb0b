package app

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"bookstore/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestListBooksPaginationCoversCatalog(t *testing.T) {
	for _, tc := range []struct {
		total   int
		perPage int
	}{
		{0, 12}, {1, 1}, {7, 3}, {12, 12}, {13, 12}, {50, 50}, {51, 50}, {23, 5},
	} {
		t.Run(fmt.Sprintf("total=%d/per_page=%d", tc.total, tc.perPage), func(t *testing.T) {
			a, _, clock := newTestApp(t)
			ctx := context.Background()
			for i := 0; i < tc.total; i++ {
				mustCreateBook(t, a, fmt.Sprintf("Book %02d", i), 10, 1)
				clock.Advance(time.Second)
			}

			first, err := a.ListBooks(ctx, ListBooksParams{PerPage: tc.perPage})
			require.NoError(t, err)
			wantPages := (tc.total + tc.perPage - 1) / tc.perPage
			if wantPages == 0 {
				wantPages = 1
			}
			require.Equal(t, wantPages, first.Pages)
			require.Equal(t, tc.total, first.Total)

			seen := make(map[string]bool)
			for page := 1; page <= first.Pages; page++ {
				res, err := a.ListBooks(ctx, ListBooksParams{Page: page, PerPage: tc.perPage})
				require.NoError(t, err)
				require.LessOrEqual(t, len(res.Books), tc.perPage)
				for _, b := range res.Books {
					require.False(t, seen[b.ID], "duplicate book %s on page %d", b.ID, page)
					seen[b.ID] = true
				}
			}
			require.Len(t, seen, tc.total)
		})
	}
}

func TestListBooksDefaultsAndValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	res, err := a.ListBooks(ctx, ListBooksParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 12, res.PerPage)
	assert.Equal(t, 1, res.Pages)
	assert.Empty(t, res.Books)

	for name, p := range map[string]ListBooksParams{
		"negative page":     {Page: -1},
		"per page too big":  {PerPage: 51},
		"negative per page": {PerPage: -5},
		"negative min":      {MinPrice: floatPtr(-1)},
		"negative max":      {MaxPrice: floatPtr(-0.01)},
		"page overflow":     {Page: math.MaxInt/defaultPerPage + 2},
		"page at max int":   {Page: math.MaxInt, PerPage: 2},
	} {
		_, err := a.ListBooks(ctx, p)
		require.ErrorIs(t, err, ErrInvalidInput, name)
	}
}

func TestListBooksFarPageIsEmpty(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	mustCreateBook(t, a, "Only", 5, 1)

	res, err := a.ListBooks(ctx, ListBooksParams{Page: math.MaxInt / defaultPerPage})
	require.NoError(t, err)
	assert.Empty(t, res.Books, "a page past the end never wraps back to the first page")
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, math.MaxInt/defaultPerPage, res.Page)

	res, err = a.ListBooks(ctx, ListBooksParams{Page: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Books)
}

func TestListBooksFiltersAndSorts(t *testing.T) {
	a, _, clock := newTestApp(t)
	ctx := context.Background()
	create := func(title, author, category, description string, price float64) domain.Book {
		b, err := a.CreateBook(ctx, domain.BookInput{
			Title: title, Author: author, Category: category, Description: description, Price: price, StockQuantity: intPtr(5),
		})
		require.NoError(t, err)
		clock.Advance(time.Minute)
		return b
	}
	dune := create("Dune", "Frank Herbert", "Fiction", "Desert planet", 9.99)
	goBook := create("The Go Programming Language", "Donovan", "Programming", "Learn Go", 39.5)
	sicp := create("SICP", "Abelson", "Programming", "Lisp and wizards", 45)
	_ = create("Hyperion", "Dan Simmons", "Fiction", "Pilgrims to the time tombs", 12)

	res, err := a.ListBooks(ctx, ListBooksParams{Category: "Programming"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	assert.Equal(t, sicp.ID, res.Books[0].ID, "default sort is newest first")

	res, err = a.ListBooks(ctx, ListBooksParams{Search: "WIZARD"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total, "search covers description case-insensitively")
	assert.Equal(t, sicp.ID, res.Books[0].ID)

	res, err = a.ListBooks(ctx, ListBooksParams{MinPrice: floatPtr(9.99), MaxPrice: floatPtr(39.5), SortBy: "price", SortOrder: "asc"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total, "price bounds are inclusive")
	assert.Equal(t, dune.ID, res.Books[0].ID)
	assert.Equal(t, goBook.ID, res.Books[2].ID)

	res, err = a.ListBooks(ctx, ListBooksParams{SortBy: "title"})
	require.NoError(t, err)
	assert.Equal(t, goBook.ID, res.Books[0].ID, "a known key without order sorts descending")

	res, err = a.ListBooks(ctx, ListBooksParams{SortBy: "title", SortOrder: "DESC"})
	require.NoError(t, err)
	assert.Equal(t, goBook.ID, res.Books[0].ID)

	res, err = a.ListBooks(ctx, ListBooksParams{SortBy: "title", SortOrder: "sideways"})
	require.NoError(t, err)
	assert.Equal(t, dune.ID, res.Books[0].ID, "any order other than desc sorts ascending")

	res, err = a.ListBooks(ctx, ListBooksParams{SortBy: "rating", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.NotEqual(t, dune.ID, res.Books[0].ID, "unknown key falls back to newest first")
}

func TestGetBookHidesUnavailable(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	b := mustCreateBook(t, a, "Visible", 5, 1)

	got, err := a.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Visible", got.Title)

	_, err = a.GetBook(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.DeleteBook(ctx, b.ID))
	_, err = a.GetBook(ctx, b.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchBooks(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	mustCreateBook(t, a, "Gopher Tales", 5, 1)
	mustCreateBook(t, a, "Rust Notes", 5, 1)

	_, err := a.SearchBooks(ctx, "g", 0)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.SearchBooks(ctx, "go", 51)
	require.ErrorIs(t, err, ErrInvalidInput)

	books, err := a.SearchBooks(ctx, "gopher", 0)
	require.NoError(t, err)
	require.Len(t, books, 1)

	books, err = a.SearchBooks(ctx, "About", 0)
	require.NoError(t, err)
	assert.Empty(t, books, "search ignores descriptions")

	books, err = a.SearchBooks(ctx, "author of", 1)
	require.NoError(t, err)
	assert.Len(t, books, 1, "limit caps results")
}

func TestCategoriesSkipEmptyAndUnavailable(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	mustCreateBook(t, a, "One", 1, 1)
	hidden := mustCreateBook(t, a, "Two", 1, 1)
	require.NoError(t, mem.SaveBook(ctx, domain.Book{ID: "raw", Title: "No category", Available: true}))
	_, err := a.CreateBook(ctx, domain.BookInput{Title: "Poem", Author: "Anon", Category: "Poetry", Price: 1})
	require.NoError(t, err)

	cats, err := a.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{{Name: "General", Count: 2}, {Name: "Poetry", Count: 1}}, cats)

	require.NoError(t, a.DeleteBook(ctx, hidden.ID))
	cats, err = a.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{{Name: "General", Count: 1}, {Name: "Poetry", Count: 1}}, cats)
}
