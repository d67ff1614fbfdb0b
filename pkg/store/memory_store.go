package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bookstore/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	// txMu is held by a running transaction and by every write made
	// outside one, so a rollback only ever undoes its own writes.
	txMu sync.Mutex

	mu        sync.RWMutex
	users     map[string]domain.User     // key: user ID
	usernames map[string]string          // username -> user ID
	emails    map[string]string          // email -> user ID
	books     map[string]domain.Book     // key: book ID
	lines     map[string]domain.CartLine // key: line ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
		emails:    make(map[string]string),
		books:     make(map[string]domain.Book),
		lines:     make(map[string]domain.CartLine),
	}
}

type memorySnapshot struct {
	users     map[string]domain.User
	usernames map[string]string
	emails    map[string]string
	books     map[string]domain.Book
	lines     map[string]domain.CartLine
}

// Transaction runs fn against the store and restores the previous state
// when fn fails.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(memoryTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memorySnapshot{
		users:     cloneMap(m.users),
		usernames: cloneMap(m.usernames),
		emails:    cloneMap(m.emails),
		books:     cloneMap(m.books),
		lines:     cloneMap(m.lines),
	}
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.usernames = snap.usernames
	m.emails = snap.emails
	m.books = snap.books
	m.lines = snap.lines
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// memoryTx is the Store handed to a transaction body. Its writes skip txMu,
// which the enclosing Transaction already holds.
type memoryTx struct {
	*MemoryStore
}

// Transaction joins the enclosing transaction.
func (t memoryTx) Transaction(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t)
}

func (t memoryTx) CreateUser(_ context.Context, u domain.User) error {
	return t.createUser(u)
}

func (t memoryTx) SetUserAdmin(_ context.Context, id string, isAdmin bool) error {
	return t.setUserAdmin(id, isAdmin)
}

func (t memoryTx) SaveBook(_ context.Context, b domain.Book) error {
	return t.saveBook(b)
}

func (t memoryTx) SaveCartLine(_ context.Context, line domain.CartLine) error {
	return t.saveCartLine(line)
}

func (t memoryTx) DeleteCartLine(_ context.Context, userID, lineID string) (bool, error) {
	return t.deleteCartLine(userID, lineID)
}

func (t memoryTx) ClearCart(_ context.Context, userID string) (int, error) {
	return t.clearCart(userID)
}

// CreateUser registers a user, enforcing unique username and email.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.createUser(u)
}

// SetUserAdmin updates the admin flag; unknown IDs are ignored.
func (m *MemoryStore) SetUserAdmin(_ context.Context, id string, isAdmin bool) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.setUserAdmin(id, isAdmin)
}

// SaveBook stores or replaces a book record.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.saveBook(b)
}

// SaveCartLine inserts a line or updates its quantity, keeping one line
// per user and book.
func (m *MemoryStore) SaveCartLine(_ context.Context, line domain.CartLine) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.saveCartLine(line)
}

// DeleteCartLine removes one of the user's lines and reports whether it existed.
func (m *MemoryStore) DeleteCartLine(_ context.Context, userID, lineID string) (bool, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.deleteCartLine(userID, lineID)
}

// ClearCart removes every line of the user.
func (m *MemoryStore) ClearCart(_ context.Context, userID string) (int, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.clearCart(userID)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) createUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("%w: user id %s", ErrDuplicate, u.ID)
	}
	if _, ok := m.usernames[u.Username]; ok {
		return fmt.Errorf("%w: username %s", ErrDuplicate, u.Username)
	}
	if _, ok := m.emails[u.Email]; ok {
		return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	m.emails[u.Email] = u.ID
	return nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userByIndex(m.usernames, username)
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userByIndex(m.emails, email)
}

func (m *MemoryStore) userByIndex(index map[string]string, key string) (domain.User, bool, error) {
	id, ok := index[key]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) setUserAdmin(id string, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.IsAdmin = isAdmin
	m.users[id] = u
	return nil
}

// ListUsers returns users ordered by creation time.
func (m *MemoryStore) ListUsers(_ context.Context, offset, limit int) ([]domain.User, error) {
	m.mu.RLock()
	users := m.sortedUsers(false)
	m.mu.RUnlock()
	return page(users, offset, limit), nil
}

// RecentUsers returns the newest users first.
func (m *MemoryStore) RecentUsers(_ context.Context, limit int) ([]domain.User, error) {
	m.mu.RLock()
	users := m.sortedUsers(true)
	m.mu.RUnlock()
	return page(users, 0, limit), nil
}

func (m *MemoryStore) sortedUsers(desc bool) []domain.User {
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if desc {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return res
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) saveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID regardless of availability.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// QueryBooks filters, sorts and pages available books.
func (m *MemoryStore) QueryBooks(_ context.Context, q domain.BookQuery) ([]domain.Book, int, error) {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	matches := m.availableBooks(func(b domain.Book) bool {
		if q.Category != "" && b.Category != q.Category {
			return false
		}
		if term != "" &&
			!containsFold(b.Title, term) &&
			!containsFold(b.Author, term) &&
			!containsFold(b.Description, term) {
			return false
		}
		if q.MinPrice != nil && b.Price < *q.MinPrice {
			return false
		}
		if q.MaxPrice != nil && b.Price > *q.MaxPrice {
			return false
		}
		return true
	})
	sortBooks(matches, q.SortBy, q.Descending)
	return page(matches, q.Offset, q.Limit), len(matches), nil
}

// SearchBooks matches available books by title or author.
func (m *MemoryStore) SearchBooks(_ context.Context, term string, limit int) ([]domain.Book, error) {
	term = strings.ToLower(term)
	matches := m.availableBooks(func(b domain.Book) bool {
		return containsFold(b.Title, term) || containsFold(b.Author, term)
	})
	sortBooks(matches, domain.SortByTitle, false)
	return page(matches, 0, limit), nil
}

// ListCategories groups available books by non-empty category.
func (m *MemoryStore) ListCategories(_ context.Context) ([]domain.Category, error) {
	counts := make(map[string]int)
	for _, b := range m.availableBooks(nil) {
		if b.Category != "" {
			counts[b.Category]++
		}
	}
	out := make([]domain.Category, 0, len(counts))
	for name, count := range counts {
		out = append(out, domain.Category{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LowStockBooks returns available books with stock below the threshold.
func (m *MemoryStore) LowStockBooks(_ context.Context, below, limit int) ([]domain.Book, error) {
	matches := m.availableBooks(func(b domain.Book) bool {
		return b.StockQuantity < below
	})
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].StockQuantity != matches[j].StockQuantity {
			return matches[i].StockQuantity < matches[j].StockQuantity
		}
		return matches[i].ID < matches[j].ID
	})
	return page(matches, 0, limit), nil
}

// RecentBooks returns the newest available books first.
func (m *MemoryStore) RecentBooks(_ context.Context, limit int) ([]domain.Book, error) {
	matches := m.availableBooks(nil)
	sortBooks(matches, domain.SortByCreatedAt, true)
	return page(matches, 0, limit), nil
}

// AvailableBookCount counts books visible in the catalog.
func (m *MemoryStore) AvailableBookCount(_ context.Context) (int, error) {
	return len(m.availableBooks(nil)), nil
}

func (m *MemoryStore) availableBooks(keep func(domain.Book) bool) []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if !b.Available {
			continue
		}
		if keep == nil || keep(b) {
			res = append(res, b)
		}
	}
	return res
}

func sortBooks(books []domain.Book, key domain.SortKey, desc bool) {
	less := func(a, b domain.Book) bool {
		switch key {
		case domain.SortByTitle:
			if a.Title != b.Title {
				return a.Title < b.Title
			}
		case domain.SortByAuthor:
			if a.Author != b.Author {
				return a.Author < b.Author
			}
		case domain.SortByPrice:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	sort.Slice(books, func(i, j int) bool {
		if desc {
			return less(books[j], books[i])
		}
		return less(books[i], books[j])
	})
}

// GetCartLine returns the user's line for a book, with the book joined.
func (m *MemoryStore) GetCartLine(_ context.Context, userID, bookID string) (domain.CartLine, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, line := range m.lines {
		if line.UserID == userID && line.BookID == bookID {
			return m.joinBook(line), true, nil
		}
	}
	return domain.CartLine{}, false, nil
}

// GetCartLineByID returns a line only when it belongs to the user.
func (m *MemoryStore) GetCartLineByID(_ context.Context, userID, lineID string) (domain.CartLine, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	line, ok := m.lines[lineID]
	if !ok || line.UserID != userID {
		return domain.CartLine{}, false, nil
	}
	return m.joinBook(line), true, nil
}

func (m *MemoryStore) saveCartLine(line domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.lines {
		if id != line.ID && existing.UserID == line.UserID && existing.BookID == line.BookID {
			return fmt.Errorf("%w: cart line for book %s", ErrDuplicate, line.BookID)
		}
	}
	line.Book = nil
	if existing, ok := m.lines[line.ID]; ok {
		existing.Quantity = line.Quantity
		m.lines[line.ID] = existing
		return nil
	}
	m.lines[line.ID] = line
	return nil
}

func (m *MemoryStore) deleteCartLine(userID, lineID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.lines[lineID]
	if !ok || line.UserID != userID {
		return false, nil
	}
	delete(m.lines, lineID)
	return true, nil
}

func (m *MemoryStore) clearCart(userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, line := range m.lines {
		if line.UserID == userID {
			delete(m.lines, id)
			removed++
		}
	}
	return removed, nil
}

// ListCartLines returns the user's lines in insertion order with books joined.
func (m *MemoryStore) ListCartLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.CartLine, 0)
	for _, line := range m.lines {
		if line.UserID == userID {
			res = append(res, m.joinBook(line))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) joinBook(line domain.CartLine) domain.CartLine {
	if b, ok := m.books[line.BookID]; ok {
		book := b
		line.Book = &book
	}
	return line
}

func containsFold(s, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(s), lowerTerm)
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
