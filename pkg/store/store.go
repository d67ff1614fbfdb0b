package store

import (
	"context"
	"errors"

	"bookstore/pkg/domain"
)

// ErrDuplicate reports a unique constraint violation (username, email, or
// one cart line per user and book).
var ErrDuplicate = errors.New("duplicate record")

// Store defines persistence operations for users, books, and cart lines.
// Book queries never return unavailable books unless they address a book
// by ID.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error
	ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error)
	RecentUsers(ctx context.Context, limit int) ([]domain.User, error)
	UserCount(ctx context.Context) (int, error)

	// books
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	QueryBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, int, error)
	SearchBooks(ctx context.Context, term string, limit int) ([]domain.Book, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	LowStockBooks(ctx context.Context, below, limit int) ([]domain.Book, error)
	RecentBooks(ctx context.Context, limit int) ([]domain.Book, error)
	AvailableBookCount(ctx context.Context) (int, error)

	// cart
	GetCartLine(ctx context.Context, userID, bookID string) (domain.CartLine, bool, error)
	GetCartLineByID(ctx context.Context, userID, lineID string) (domain.CartLine, bool, error)
	SaveCartLine(ctx context.Context, line domain.CartLine) error
	DeleteCartLine(ctx context.Context, userID, lineID string) (bool, error)
	ClearCart(ctx context.Context, userID string) (int, error)
	ListCartLines(ctx context.Context, userID string) ([]domain.CartLine, error)

	// Transaction runs fn against a Store bound to one transaction. Any
	// error returned by fn rolls back every write made through it.
	Transaction(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
}
