package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"unicode/utf8"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	maxTitleLen    = 200
	maxAuthorLen   = 100
	maxCategoryLen = 50
	maxImageRefLen = 255

	lowStockThreshold = 10
	lowStockLimit     = 10
	recentLimit       = 5
)

// CreateBook adds an available book to the catalog.
func (a *App) CreateBook(ctx context.Context, in domain.BookInput) (domain.Book, error) {
	book := domain.Book{
		ID:          util.NewID(),
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Price:       in.Price,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Available:   true,
		CreatedAt:   a.timestamp(),
	}
	if in.StockQuantity != nil {
		book.StockQuantity = *in.StockQuantity
	}
	if err := validateBook(book); err != nil {
		return domain.Book{}, err
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, storageError("save book", err)
	}
	util.LoggerFromContext(ctx).Info("book created", "book_id", book.ID, "title", book.Title)
	return book, nil
}

// UpdateBook applies the fields present in patch. Unavailable books can be
// updated, which is how availability is restored.
func (a *App) UpdateBook(ctx context.Context, id string, patch domain.BookPatch) (domain.Book, error) {
	var book domain.Book
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		found, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return storageError("get book", err)
		}
		if !ok {
			return newError(ErrNotFound, "Book not found")
		}
		trimPatch(patch).Apply(&found)
		if err := validateBook(found); err != nil {
			return err
		}
		if err := tx.SaveBook(ctx, found); err != nil {
			return storageError("save book", err)
		}
		book = found
		return nil
	})
	if err != nil {
		return domain.Book{}, err
	}
	util.LoggerFromContext(ctx).Info("book updated", "book_id", book.ID, "available", book.Available, "stock", book.StockQuantity)
	return book, nil
}

func trimPatch(p domain.BookPatch) domain.BookPatch {
	p.Title = trimmed(p.Title)
	p.Author = trimmed(p.Author)
	p.Category = trimmed(p.Category)
	p.ImageURL = trimmed(p.ImageURL)
	return p
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// DeleteBook hides a book from the catalog. Stock and existing cart lines
// are left untouched.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		book, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return storageError("get book", err)
		}
		if !ok {
			return newError(ErrNotFound, "Book not found")
		}
		book.Available = false
		if err := tx.SaveBook(ctx, book); err != nil {
			return storageError("save book", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("book deleted", "book_id", id)
	return nil
}

// BulkCreateBooks creates each book independently; failures are collected
// and never abort the batch.
func (a *App) BulkCreateBooks(ctx context.Context, inputs []domain.BookInput) domain.BulkResult {
	res := domain.BulkResult{Errors: []string{}}
	for _, in := range inputs {
		if _, err := a.CreateBook(ctx, in); err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to create '%s': %s", in.Title, PublicMessage(err)))
			continue
		}
		res.SuccessCount++
	}
	util.LoggerFromContext(ctx).Info("bulk create finished", "success", res.SuccessCount, "failed", res.FailedCount)
	return res
}

func validateBook(b domain.Book) error {
	switch {
	case b.Title == "":
		return newError(ErrInvalidInput, "title is required")
	case b.Author == "":
		return newError(ErrInvalidInput, "author is required")
	case b.Category == "":
		return newError(ErrInvalidInput, "category is required")
	case utf8.RuneCountInString(b.Title) > maxTitleLen:
		return newError(ErrInvalidInput, fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	case utf8.RuneCountInString(b.Author) > maxAuthorLen:
		return newError(ErrInvalidInput, fmt.Sprintf("author must be at most %d characters", maxAuthorLen))
	case utf8.RuneCountInString(b.Category) > maxCategoryLen:
		return newError(ErrInvalidInput, fmt.Sprintf("category must be at most %d characters", maxCategoryLen))
	case utf8.RuneCountInString(b.ImageURL) > maxImageRefLen:
		return newError(ErrInvalidInput, fmt.Sprintf("image_url must be at most %d characters", maxImageRefLen))
	case b.Price < 0 || math.IsNaN(b.Price) || math.IsInf(b.Price, 0):
		return newError(ErrInvalidInput, "price must be a non-negative number")
	case b.StockQuantity < 0:
		return newError(ErrInvalidInput, "stock_quantity must be >= 0")
	}
	return nil
}

// SetBookImage stores cover bytes in object storage and records the object
// key as the book's image reference.
func (a *App) SetBookImage(ctx context.Context, id, filename, contentType string, r io.Reader, size int64) (domain.Book, error) {
	if a.images == nil {
		return domain.Book{}, newError(ErrImagesDisabled, "image uploads are not configured")
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, storageError("get book", err)
	}
	if !ok {
		return domain.Book{}, newError(ErrNotFound, "Book not found")
	}
	key := storage.ImageKey(book.ID, filename)
	if err := a.images.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Book{}, &Error{Kind: ErrStorageFailure, Message: "internal error", Cause: err}
	}
	previous := book.ImageURL
	ref := key
	updated, err := a.UpdateBook(ctx, book.ID, domain.BookPatch{ImageURL: &ref})
	if err != nil {
		_ = a.images.Delete(ctx, key)
		return domain.Book{}, err
	}
	if previous != "" && previous != key && strings.HasPrefix(previous, "books/"+book.ID+"/") {
		if err := a.images.Delete(ctx, previous); err != nil {
			util.LoggerFromContext(ctx).Warn("remove previous cover failed", "book_id", book.ID, "key", previous, "err", err)
		}
	}
	return updated, nil
}

// ImageLinksPresigned reports whether stored covers are fetched through
// pre-signed object storage links.
func (a *App) ImageLinksPresigned() bool {
	_, ok := a.images.(storage.Presigner)
	return ok
}

// ImageLink returns a short-lived download URL for a stored cover key.
func (a *App) ImageLink(ctx context.Context, key string) (string, error) {
	signer, ok := a.images.(storage.Presigner)
	if !ok {
		return "", newError(ErrImagesDisabled, "image links are not configured")
	}
	clean := path.Clean("/" + strings.TrimSpace(key))
	if !strings.HasPrefix(clean, "/books/") || strings.Count(clean, "/") != 3 {
		return "", newError(ErrNotFound, "Image not found")
	}
	url, err := signer.PresignGet(ctx, strings.TrimPrefix(clean, "/"), a.imageURLExpiry)
	if err != nil {
		return "", &Error{Kind: ErrStorageFailure, Message: "internal error", Cause: err}
	}
	return url, nil
}

// Stats aggregates the admin dashboard figures concurrently.
func (a *App) Stats(ctx context.Context) (domain.AdminStats, error) {
	var (
		stats      domain.AdminStats
		categories []domain.Category
		lowStock   []domain.Book
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalBooks, err = a.store.AvailableBookCount(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalUsers, err = a.store.UserCount(gctx)
		return err
	})
	g.Go(func() (err error) {
		categories, err = a.store.ListCategories(gctx)
		return err
	})
	g.Go(func() (err error) {
		lowStock, err = a.store.LowStockBooks(gctx, lowStockThreshold, lowStockLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.RecentUsers, err = a.store.RecentUsers(gctx, recentLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.RecentBooks, err = a.store.RecentBooks(gctx, recentLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AdminStats{}, storageError("admin stats", err)
	}
	stats.TotalCategories = len(categories)
	stats.LowStockBooks = make([]domain.StockAlert, 0, len(lowStock))
	for _, b := range lowStock {
		stats.LowStockBooks = append(stats.LowStockBooks, domain.StockAlert{ID: b.ID, Title: b.Title, Stock: b.StockQuantity})
	}
	return stats, nil
}
