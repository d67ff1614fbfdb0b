package app

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

// Stock is checked against each line when it is written, never reserved.
// Two users can each pass the check for the last copies of a book, so the
// sum over all carts may exceed stock. This race is accepted: cart activity
// never decrements stock and no cross-user lock exists.

// AddToCart adds quantity copies of a book, merging into the user's existing
// line for that book.
func (a *App) AddToCart(ctx context.Context, userID, bookID string, quantity int) (domain.CartLine, error) {
	if quantity <= 0 {
		return domain.CartLine{}, newError(ErrInvalidInput, "quantity must be at least 1")
	}
	line, err := a.addToCart(ctx, userID, bookID, quantity)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent request by the same user inserted the line first;
		// the retry sees it and increments instead.
		line, err = a.addToCart(ctx, userID, bookID, quantity)
	}
	if err != nil {
		return domain.CartLine{}, err
	}
	util.LoggerFromContext(ctx).Info("cart line saved", "user_id", userID, "book_id", bookID, "quantity", line.Quantity)
	return line, nil
}

func (a *App) addToCart(ctx context.Context, userID, bookID string, quantity int) (domain.CartLine, error) {
	var line domain.CartLine
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		book, ok, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return storageError("get book", err)
		}
		if !ok || !book.Available {
			return newError(ErrNotFound, "Book not found or unavailable")
		}
		existing, found, err := tx.GetCartLine(ctx, userID, bookID)
		if err != nil {
			return storageError("get cart line", err)
		}
		if found {
			headroom := book.StockQuantity - existing.Quantity
			if quantity > headroom {
				return newError(ErrInsufficientStock, fmt.Sprintf("Cannot add %d more. Only %d available", quantity, max(headroom, 0)))
			}
			line = existing
			line.Quantity += quantity
		} else {
			if quantity > book.StockQuantity {
				return newError(ErrInsufficientStock, fmt.Sprintf("Only %d items available in stock", book.StockQuantity))
			}
			line = domain.CartLine{
				ID:        util.NewID(),
				UserID:    userID,
				BookID:    bookID,
				Quantity:  quantity,
				CreatedAt: a.timestamp(),
			}
		}
		if err := tx.SaveCartLine(ctx, line); err != nil {
			return storageError("save cart line", err)
		}
		line.Book = &book
		return nil
	})
	return line, err
}

// UpdateCartLine overwrites a line's quantity after re-checking current stock.
func (a *App) UpdateCartLine(ctx context.Context, userID, lineID string, quantity int) (domain.CartLine, error) {
	if quantity <= 0 {
		return domain.CartLine{}, newError(ErrInvalidInput, "quantity must be at least 1")
	}
	var line domain.CartLine
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		found, ok, err := tx.GetCartLineByID(ctx, userID, lineID)
		if err != nil {
			return storageError("get cart line", err)
		}
		if !ok {
			return newError(ErrNotFound, "Cart item not found")
		}
		book, ok, err := tx.GetBook(ctx, found.BookID)
		if err != nil {
			return storageError("get book", err)
		}
		if !ok || !book.Available {
			return newError(ErrNotFound, "Book no longer available")
		}
		if quantity > book.StockQuantity {
			return newError(ErrInsufficientStock, fmt.Sprintf("Only %d items available in stock", book.StockQuantity))
		}
		found.Quantity = quantity
		if err := tx.SaveCartLine(ctx, found); err != nil {
			return storageError("save cart line", err)
		}
		found.Book = &book
		line = found
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}
	return line, nil
}

// RemoveCartLine deletes one of the user's lines.
func (a *App) RemoveCartLine(ctx context.Context, userID, lineID string) error {
	removed, err := a.store.DeleteCartLine(ctx, userID, lineID)
	if err != nil {
		return storageError("delete cart line", err)
	}
	if !removed {
		return newError(ErrNotFound, "Cart item not found")
	}
	return nil
}

// ClearCart deletes every line of the user and returns how many were removed.
func (a *App) ClearCart(ctx context.Context, userID string) (int, error) {
	removed, err := a.store.ClearCart(ctx, userID)
	if err != nil {
		return 0, storageError("clear cart", err)
	}
	util.LoggerFromContext(ctx).Info("cart cleared", "user_id", userID, "removed", removed)
	return removed, nil
}

// CartSummary joins the user's lines to their books. Lines whose book is
// unavailable are skipped but kept, so they reappear once the book is
// restored.
func (a *App) CartSummary(ctx context.Context, userID string) (domain.CartSummary, error) {
	lines, err := a.store.ListCartLines(ctx, userID)
	if err != nil {
		return domain.CartSummary{}, storageError("list cart lines", err)
	}
	summary := domain.CartSummary{Items: make([]domain.CartLine, 0, len(lines))}
	var total float64
	for _, line := range lines {
		if line.Book == nil || !line.Book.Available {
			continue
		}
		summary.Items = append(summary.Items, line)
		summary.TotalItems += line.Quantity
		total += line.Book.Price * float64(line.Quantity)
	}
	summary.TotalPrice = roundCents(total)
	return summary, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
