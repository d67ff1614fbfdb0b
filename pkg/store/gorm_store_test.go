package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/pkg/domain"
	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newGormStoreWithMock(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return newGormStoreFromDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestGormStoreGetUserByUsername(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "is_admin", "created_at"}).
		AddRow("u-1", "alice", "alice@example.com", "hash", true, created)
	mock.ExpectQuery(`SELECT \* FROM "user_models" WHERE username = \$1`).
		WillReturnRows(rows)

	u, ok, err := s.GetUserByUsername(context.Background(), "alice")
	if err != nil || !ok {
		t.Fatalf("expected user, ok=%v err=%v", ok, err)
	}
	if u.ID != "u-1" || u.Email != "alice@example.com" || !u.IsAdmin || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", u)
	}
	expectationsMet(t, mock)
}

func TestGormStoreGetUserByUsernameNotFound(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectQuery(`SELECT \* FROM "user_models" WHERE username = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := s.GetUserByUsername(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("expected not found without error, ok=%v err=%v", ok, err)
	}
	expectationsMet(t, mock)
}

func TestGormStoreGetUserPropagatesDBError(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectQuery(`SELECT \* FROM "user_models" WHERE email = \$1`).
		WillReturnError(errors.New("db down"))

	if _, _, err := s.GetUserByEmail(context.Background(), "a@b.io"); err == nil {
		t.Fatalf("expected db error")
	}
	expectationsMet(t, mock)
}

func TestGormStoreSetUserAdmin(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectExec(`UPDATE "user_models" SET "is_admin"=\$1 WHERE id = \$2`).
		WithArgs(true, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetUserAdmin(context.Background(), "u-1", true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	expectationsMet(t, mock)
}

func TestGormStoreQueryBooksAppliesFilters(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	minPrice := 5.0
	q := domain.BookQuery{
		Category: "Fiction",
		Search:   "50%_Off",
		MinPrice: &minPrice,
		SortBy:   domain.SortByPrice,
		Offset:   12,
		Limit:    12,
	}
	pattern := `%50\%\_off%`

	mock.ExpectQuery(`SELECT count\(\*\) FROM "book_models" WHERE is_available = \$1 AND category = \$2 AND \(LOWER\(title\) LIKE \$3 OR LOWER\(author\) LIKE \$4 OR LOWER\(description\) LIKE \$5\) AND price >= \$6`).
		WithArgs(true, "Fiction", pattern, pattern, pattern, minPrice).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(13))
	mock.ExpectQuery(`SELECT \* FROM "book_models" WHERE .* ORDER BY "price","id" LIMIT .* OFFSET .*`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "category", "price", "is_available"}).
			AddRow("b-13", "Sale", "Fiction", 7.5, true))

	books, total, err := s.QueryBooks(context.Background(), q)
	if err != nil {
		t.Fatalf("query books: %v", err)
	}
	if total != 13 || len(books) != 1 || books[0].ID != "b-13" || !books[0].Available {
		t.Fatalf("unexpected result: total=%d books=%+v", total, books)
	}
	expectationsMet(t, mock)
}

func TestGormStoreDeleteCartLineScopedToOwner(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectExec(`DELETE FROM "cart_line_models" WHERE id = \$1 AND user_id = \$2`).
		WithArgs("l-1", "u-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := s.DeleteCartLine(context.Background(), "u-2", "l-1")
	if err != nil {
		t.Fatalf("delete line: %v", err)
	}
	if removed {
		t.Fatalf("expected nothing removed for foreign line")
	}
	expectationsMet(t, mock)
}

func TestGormStoreClearCartReportsCount(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectExec(`DELETE FROM "cart_line_models" WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ClearCart(context.Background(), "u-1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 removed, got %d err=%v", n, err)
	}
	expectationsMet(t, mock)
}

func TestGormStoreTransactionRollsBackOnError(t *testing.T) {
	s, mock := newGormStoreWithMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "cart_line_models" WHERE user_id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.Transaction(context.Background(), func(tx Store) error {
		if _, err := tx.ClearCart(context.Background(), "u-1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	cases := map[string]string{
		"Go":      "%go%",
		"100%":    `%100\%%`,
		"a_b":     `%a\_b%`,
		`back\sl`: `%back\\sl%`,
	}
	for in, want := range cases {
		if got := likePattern(in); got != want {
			t.Fatalf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}
