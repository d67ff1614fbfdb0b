package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/pkg/domain"
	"bookstore/pkg/store"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *testClock) {
	t.Helper()
	mem := store.NewMemoryStore()
	clock := &testClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	a, err := New(Config{
		Store:     mem,
		SecretKey: "unit-test-secret",
		TokenTTL:  24 * time.Hour,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return a, mem, clock
}

func intPtr(v int) *int { return &v }

func mustCreateBook(t *testing.T, a *App, title string, price float64, stock int) domain.Book {
	t.Helper()
	b, err := a.CreateBook(context.Background(), domain.BookInput{
		Title:         title,
		Author:        "Author of " + title,
		Description:   "About " + title,
		Category:      "General",
		Price:         price,
		StockQuantity: intPtr(stock),
	})
	require.NoError(t, err)
	return b
}

func mustRegister(t *testing.T, a *App, username string) domain.User {
	t.Helper()
	u, err := a.Register(context.Background(), username, username+"@example.com", "Strong1!")
	require.NoError(t, err)
	return u
}

// failingStore returns err from the methods the storage failure tests reach.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) QueryBooks(context.Context, domain.BookQuery) ([]domain.Book, int, error) {
	return nil, 0, f.err
}

func (f failingStore) ListCartLines(context.Context, string) ([]domain.CartLine, error) {
	return nil, f.err
}

func (f failingStore) Transaction(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}

func (f failingStore) GetBook(context.Context, string) (domain.Book, bool, error) {
	return domain.Book{}, false, f.err
}

func TestNewGeneratesEphemeralSecret(t *testing.T) {
	a, err := New(Config{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	u, err := a.Register(context.Background(), "ephemeral", "e@example.com", "Strong1!")
	require.NoError(t, err)
	token, _, err := a.Login(context.Background(), "ephemeral", "Strong1!")
	require.NoError(t, err)
	got, claims, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "ephemeral", claims.Subject)
}

func TestNewRejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), SecretKey: "x", Algorithm: "RS256"})
	require.Error(t, err)
}

func TestStorageFailuresAreOpaque(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.store = failingStore{err: errors.New("connection reset by peer")}
	ctx := context.Background()

	_, err := a.ListBooks(ctx, ListBooksParams{})
	require.ErrorIs(t, err, ErrStorageFailure)
	require.Equal(t, "internal error", PublicMessage(err))
	require.Contains(t, err.Error(), "connection reset by peer")

	_, err = a.CartSummary(ctx, "u1")
	require.ErrorIs(t, err, ErrStorageFailure)

	_, err = a.AddToCart(ctx, "u1", "b1", 1)
	require.ErrorIs(t, err, ErrStorageFailure)
	require.Equal(t, "internal error", PublicMessage(err))
}
