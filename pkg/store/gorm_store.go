package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"bookstore/pkg/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51820417

var sortColumns = map[domain.SortKey]string{
	domain.SortByTitle:     "title",
	domain.SortByAuthor:    "author",
	domain.SortByPrice:     "price",
	domain.SortByCreatedAt: "created_at",
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &CartLineModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func newGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// withMigrationLock serializes migrations across replicas starting together.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a database transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// CreateUser inserts a new user. Unique violations surface as ErrDuplicate.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return translateError(s.db.WithContext(ctx).Create(&model).Error)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	return s.firstUser(ctx, "username = ?", username)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.firstUser(ctx, "email = ?", email)
}

func (s *GormStore) firstUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetUserAdmin updates the admin flag of a user.
func (s *GormStore) SetUserAdmin(ctx context.Context, id string, isAdmin bool) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Update("is_admin", isAdmin).Error
}

// ListUsers returns users ordered by creation time.
func (s *GormStore) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// RecentUsers returns the newest users first.
func (s *GormStore) RecentUsers(ctx context.Context, limit int) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "description", "category", "price",
			"image_url", "stock_quantity", "is_available",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book by ID regardless of availability.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// QueryBooks returns one page of available books and the total match count.
func (s *GormStore) QueryBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, int, error) {
	var total int64
	if err := s.bookFilter(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns[domain.SortByCreatedAt]
	}
	var models []BookModel
	if err := s.bookFilter(ctx, q).
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: q.Descending}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: q.Descending}).
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return booksFromModels(models), int(total), nil
}

func (s *GormStore) bookFilter(ctx context.Context, q domain.BookQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&BookModel{}).Where("is_available = ?", true)
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		pattern := likePattern(term)
		// gorm parenthesizes OR expressions joined with other conditions.
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern, pattern)
	}
	if q.MinPrice != nil {
		tx = tx.Where("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		tx = tx.Where("price <= ?", *q.MaxPrice)
	}
	return tx
}

// SearchBooks matches available books by title or author.
func (s *GormStore) SearchBooks(ctx context.Context, term string, limit int) ([]domain.Book, error) {
	pattern := likePattern(term)
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Where("is_available = ?", true).
		Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", pattern, pattern).
		Order("title ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// ListCategories groups available books by non-empty category.
func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []struct {
		Name  string
		Count int
	}
	if err := s.db.WithContext(ctx).Model(&BookModel{}).
		Select("category AS name, COUNT(*) AS count").
		Where("is_available = ? AND category <> ?", true, "").
		Group("category").
		Order("category ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Category{Name: row.Name, Count: row.Count})
	}
	return out, nil
}

// LowStockBooks returns available books with stock below the threshold.
func (s *GormStore) LowStockBooks(ctx context.Context, below, limit int) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Where("is_available = ? AND stock_quantity < ?", true, below).
		Order("stock_quantity ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// RecentBooks returns the newest available books first.
func (s *GormStore) RecentBooks(ctx context.Context, limit int) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Where("is_available = ?", true).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// AvailableBookCount counts books visible in the catalog.
func (s *GormStore) AvailableBookCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("is_available = ?", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetCartLine returns the user's line for a book, with the book joined.
func (s *GormStore) GetCartLine(ctx context.Context, userID, bookID string) (domain.CartLine, bool, error) {
	return s.firstCartLine(ctx, "user_id = ? AND book_id = ?", userID, bookID)
}

// GetCartLineByID returns a line only when it belongs to the user.
func (s *GormStore) GetCartLineByID(ctx context.Context, userID, lineID string) (domain.CartLine, bool, error) {
	return s.firstCartLine(ctx, "id = ? AND user_id = ?", lineID, userID)
}

// firstCartLine locks the row so concurrent writes to one user's line
// serialize inside a transaction.
func (s *GormStore) firstCartLine(ctx context.Context, query string, args ...any) (domain.CartLine, bool, error) {
	var model CartLineModel
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Book").
		Where(query, args...).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CartLine{}, false, nil
		}
		return domain.CartLine{}, false, err
	}
	return cartLineFromModel(model), true, nil
}

// SaveCartLine inserts a line or updates its quantity.
func (s *GormStore) SaveCartLine(ctx context.Context, line domain.CartLine) error {
	model := cartLineToModel(line)
	err := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
		}).
		Create(&model).Error
	return translateError(err)
}

// DeleteCartLine removes one of the user's lines and reports whether it existed.
func (s *GormStore) DeleteCartLine(ctx context.Context, userID, lineID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", lineID, userID).
		Delete(&CartLineModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClearCart removes every line of the user.
func (s *GormStore) ClearCart(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&CartLineModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// ListCartLines returns the user's lines in insertion order with books joined.
func (s *GormStore) ListCartLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	var models []CartLineModel
	if err := s.db.WithContext(ctx).
		Preload("Book").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(models))
	for _, m := range models {
		lines = append(lines, cartLineFromModel(m))
	}
	return lines, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// likePattern lowercases term and escapes LIKE wildcards so user input
// always matches literally.
func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.ToLower(term)) + "%"
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsAdmin:      u.IsAdmin,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsAdmin:      m.IsAdmin,
		CreatedAt:    m.CreatedAt,
	}
}

func usersFromModels(models []UserModel) []domain.User {
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Category:      b.Category,
		Price:         b.Price,
		ImageURL:      b.ImageURL,
		StockQuantity: b.StockQuantity,
		IsAvailable:   b.Available,
		CreatedAt:     b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:            m.ID,
		Title:         m.Title,
		Author:        m.Author,
		Description:   m.Description,
		Category:      m.Category,
		Price:         m.Price,
		ImageURL:      m.ImageURL,
		StockQuantity: m.StockQuantity,
		Available:     m.IsAvailable,
		CreatedAt:     m.CreatedAt,
	}
}

func booksFromModels(models []BookModel) []domain.Book {
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res
}

func cartLineToModel(line domain.CartLine) CartLineModel {
	return CartLineModel{
		ID:        line.ID,
		UserID:    line.UserID,
		BookID:    line.BookID,
		Quantity:  line.Quantity,
		CreatedAt: line.CreatedAt,
	}
}

func cartLineFromModel(m CartLineModel) domain.CartLine {
	line := domain.CartLine{
		ID:        m.ID,
		UserID:    m.UserID,
		BookID:    m.BookID,
		Quantity:  m.Quantity,
		CreatedAt: m.CreatedAt,
	}
	if m.Book.ID != "" {
		book := bookFromModel(m.Book)
		line.Book = &book
	}
	return line
}
