package domain

import "time"

// TokenTypeAccess is the only session token type the API accepts.
const TokenTypeAccess = "access"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Book is a catalog entry. Available=false is a soft delete: the row stays
// addressable by ID for cart lines but is hidden from every catalog read.
type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Price         float64   `json:"price"`
	ImageURL      string    `json:"image_url"`
	StockQuantity int       `json:"stock_quantity"`
	Available     bool      `json:"is_available"`
	CreatedAt     time.Time `json:"created_at"`
}

// CartLine is one (user, book) pair in a cart. Book is populated by
// store lookups that join the referenced book.
type CartLine struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	BookID    string    `json:"book_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	Book      *Book     `json:"book,omitempty"`
}

// Claims is the identity carried by a session token. It is never persisted.
type Claims struct {
	Subject   string    `json:"sub"`
	IsAdmin   bool      `json:"is_admin"`
	Type      string    `json:"type"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// BookInput carries the attributes of a new book.
type BookInput struct {
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	ImageURL      string  `json:"image_url"`
	StockQuantity *int    `json:"stock_quantity,omitempty"`
}

// BookPatch is a partial update; nil fields are left untouched.
type BookPatch struct {
	Title         *string  `json:"title,omitempty"`
	Author        *string  `json:"author,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	ImageURL      *string  `json:"image_url,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
	Available     *bool    `json:"is_available,omitempty"`
}

// Apply copies the present fields of p onto b.
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Price != nil {
		b.Price = *p.Price
	}
	if p.ImageURL != nil {
		b.ImageURL = *p.ImageURL
	}
	if p.StockQuantity != nil {
		b.StockQuantity = *p.StockQuantity
	}
	if p.Available != nil {
		b.Available = *p.Available
	}
}

type SortKey string

const (
	SortByTitle     SortKey = "title"
	SortByAuthor    SortKey = "author"
	SortByPrice     SortKey = "price"
	SortByCreatedAt SortKey = "created_at"
)

// BookQuery is a normalized catalog query. Store implementations only ever
// return available books for it.
type BookQuery struct {
	Category   string
	Search     string
	MinPrice   *float64
	MaxPrice   *float64
	SortBy     SortKey
	Descending bool
	Offset     int
	Limit      int
}

type BookPage struct {
	Books   []Book `json:"books"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Pages   int    `json:"pages"`
}

type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type CartSummary struct {
	Items      []CartLine `json:"items"`
	TotalItems int        `json:"total_items"`
	TotalPrice float64    `json:"total_price"`
}

type BulkResult struct {
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	Errors       []string `json:"errors"`
}

type StockAlert struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Stock int    `json:"stock"`
}

type AdminStats struct {
	TotalBooks      int          `json:"total_books"`
	TotalUsers      int          `json:"total_users"`
	TotalCategories int          `json:"total_categories"`
	LowStockBooks   []StockAlert `json:"low_stock_books"`
	RecentUsers     []User       `json:"recent_users"`
	RecentBooks     []Book       `json:"recent_books"`
}
