package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/pkg/domain"
)

func seedBooks(t *testing.T, s *MemoryStore, books ...domain.Book) {
	t.Helper()
	for _, b := range books {
		if err := s.SaveBook(context.Background(), b); err != nil {
			t.Fatalf("save book %s: %v", b.ID, err)
		}
	}
}

func TestMemoryStoreRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateUser(ctx, domain.User{ID: "u1", Username: "alice", Email: "a@x.io"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "u2", Username: "alice", Email: "b@x.io"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "u3", Username: "bob", Email: "a@x.io"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	count, _ := s.UserCount(ctx)
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}
}

func TestMemoryStoreTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedBooks(t, s, domain.Book{ID: "b1", Title: "Go", Available: true, StockQuantity: 3})

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.SaveCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	lines, _ := s.ListCartLines(ctx, "u1")
	if len(lines) != 0 {
		t.Fatalf("expected rollback to drop line, got %+v", lines)
	}

	if err := s.Transaction(ctx, func(tx Store) error {
		return tx.SaveCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 2})
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	lines, _ = s.ListCartLines(ctx, "u1")
	if len(lines) != 1 || lines[0].Quantity != 2 || lines[0].Book == nil || lines[0].Book.Title != "Go" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestMemoryStoreRollbackKeepsOutsideWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedBooks(t, s, domain.Book{ID: "b1", Title: "Go", Available: true, StockQuantity: 3})

	boom := errors.New("boom")
	done := make(chan error, 1)
	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.SaveBook(ctx, domain.Book{ID: "b1", Title: "Renamed", Available: true}); err != nil {
			return err
		}
		go func() {
			done <- s.SaveBook(ctx, domain.Book{ID: "b2", Title: "Outside", Available: true})
		}()
		select {
		case err := <-done:
			t.Errorf("outside write finished while the transaction was open: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("outside write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("outside write never completed")
	}

	b1, _, _ := s.GetBook(ctx, "b1")
	if b1.Title != "Go" {
		t.Fatalf("expected rollback of b1, got %q", b1.Title)
	}
	if _, ok, _ := s.GetBook(ctx, "b2"); !ok {
		t.Fatalf("expected write made outside the transaction to survive the rollback")
	}
}

func TestMemoryStoreNestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.Transaction(ctx, func(inner Store) error {
			return inner.SaveBook(ctx, domain.Book{ID: "b1", Title: "Inner", Available: true})
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := s.GetBook(ctx, "b1"); ok {
		t.Fatalf("expected inner write rolled back with the outer transaction")
	}
}

func TestMemoryStoreOneLinePerUserAndBook(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1}); err != nil {
		t.Fatalf("save line: %v", err)
	}
	if err := s.SaveCartLine(ctx, domain.CartLine{ID: "l2", UserID: "u1", BookID: "b1", Quantity: 1}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate line, got %v", err)
	}
	if err := s.SaveCartLine(ctx, domain.CartLine{ID: "l3", UserID: "u2", BookID: "b1", Quantity: 1}); err != nil {
		t.Fatalf("other user's line: %v", err)
	}
}

func TestMemoryStoreCartLinesAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1})

	if _, ok, _ := s.GetCartLineByID(ctx, "u2", "l1"); ok {
		t.Fatalf("expected foreign line to be hidden")
	}
	if removed, _ := s.DeleteCartLine(ctx, "u2", "l1"); removed {
		t.Fatalf("expected foreign delete to be refused")
	}
	if removed, _ := s.DeleteCartLine(ctx, "u1", "l1"); !removed {
		t.Fatalf("expected owner delete to succeed")
	}
}

func TestMemoryStoreQueryBooks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedBooks(t, s,
		domain.Book{ID: "b1", Title: "The Go Programming Language", Author: "Donovan", Category: "Programming", Price: 40, Available: true, CreatedAt: base},
		domain.Book{ID: "b2", Title: "Dune", Author: "Herbert", Category: "Fiction", Price: 10, Available: true, CreatedAt: base.Add(time.Hour)},
		domain.Book{ID: "b3", Title: "Concurrency in Go", Author: "Cox-Buday", Category: "Programming", Price: 35, Available: true, CreatedAt: base.Add(2 * time.Hour)},
		domain.Book{ID: "b4", Title: "Gone", Author: "Hidden", Category: "Programming", Price: 5, Available: false, CreatedAt: base.Add(3 * time.Hour)},
	)

	books, total, err := s.QueryBooks(ctx, domain.BookQuery{Category: "Programming", SortBy: domain.SortByPrice, Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(books) != 2 || books[0].ID != "b3" || books[1].ID != "b1" {
		t.Fatalf("unexpected category result: total=%d books=%+v", total, books)
	}

	books, total, _ = s.QueryBooks(ctx, domain.BookQuery{Search: "GO", SortBy: domain.SortByCreatedAt, Descending: true, Limit: 10})
	if total != 2 || books[0].ID != "b3" {
		t.Fatalf("unexpected search result: total=%d books=%+v", total, books)
	}

	books, total, _ = s.QueryBooks(ctx, domain.BookQuery{SortBy: domain.SortByTitle, Offset: 2, Limit: 2})
	if total != 3 || len(books) != 1 || books[0].ID != "b1" {
		t.Fatalf("unexpected paged result: total=%d books=%+v", total, books)
	}

	categories, _ := s.ListCategories(ctx)
	if len(categories) != 2 || categories[0].Name != "Fiction" || categories[1].Count != 2 {
		t.Fatalf("unexpected categories: %+v", categories)
	}
}
