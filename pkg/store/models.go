package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	IsAdmin      bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

type BookModel struct {
	ID            string  `gorm:"primaryKey"`
	Title         string  `gorm:"not null;index"`
	Author        string  `gorm:"not null;index"`
	Description   string  `gorm:"type:text"`
	Category      string  `gorm:"not null;index"`
	Price         float64 `gorm:"not null"`
	ImageURL      string
	StockQuantity int       `gorm:"not null"`
	IsAvailable   bool      `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

type CartLineModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_cart_user_book"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_cart_user_book"`
	Quantity  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	User      UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Book      BookModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}
