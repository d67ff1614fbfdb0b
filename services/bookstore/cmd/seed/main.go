// Command seed creates the first admin account and loads a starter catalog.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/services/bookstore/internal/app"
	"bookstore/services/bookstore/internal/config"
	"gopkg.in/yaml.v3"
)

//go:embed sample_books.yaml
var sampleBooks []byte

type seedBook struct {
	Title         string  `yaml:"title"`
	Author        string  `yaml:"author"`
	Description   string  `yaml:"description"`
	Category      string  `yaml:"category"`
	Price         float64 `yaml:"price"`
	ImageURL      string  `yaml:"imageURL"`
	StockQuantity *int    `yaml:"stockQuantity"`
}

func main() {
	var (
		configPath    = flag.String("config", config.ConfigPath, "path to config.yaml")
		adminUser     = flag.String("admin-user", "admin", "admin username")
		adminEmail    = flag.String("admin-email", "admin@example.com", "admin email")
		adminPassword = flag.String("admin-password", os.Getenv("ADMIN_PASSWORD"), "admin password (default $ADMIN_PASSWORD)")
		booksPath     = flag.String("books", "", "YAML file with books to create (default: built-in sample catalog)")
		skipBooks     = flag.Bool("skip-books", false, "only ensure the admin account")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		SecretKey:   cfg.SecretKey,
		Algorithm:   cfg.Algorithm,
		TokenTTL:    cfg.AccessTokenTTL(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if strings.TrimSpace(*adminPassword) == "" {
		log.Fatalf("admin password required (-admin-password or ADMIN_PASSWORD)")
	}
	admin, created, err := appCore.EnsureAdmin(ctx, *adminUser, *adminEmail, *adminPassword)
	if err != nil {
		log.Fatalf("failed to ensure admin: %s", app.PublicMessage(err))
	}
	logger.Info("admin ready", "username", admin.Username, "created", created)

	if *skipBooks {
		return
	}
	inputs, err := loadBooks(*booksPath)
	if err != nil {
		log.Fatalf("failed to load books: %v", err)
	}
	result := appCore.BulkCreateBooks(ctx, inputs)
	for _, msg := range result.Errors {
		logger.Warn("seed book rejected", "error", msg)
	}
	fmt.Printf("created %d books, %d failed\n", result.SuccessCount, result.FailedCount)
}

func loadBooks(path string) ([]domain.BookInput, error) {
	data := sampleBooks
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read books: %w", err)
		}
		data = raw
	}
	return parseBooks(data)
}

func parseBooks(data []byte) ([]domain.BookInput, error) {
	var books []seedBook
	if err := yaml.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse books: %w", err)
	}
	out := make([]domain.BookInput, 0, len(books))
	for _, b := range books {
		out = append(out, domain.BookInput{
			Title:         b.Title,
			Author:        b.Author,
			Description:   b.Description,
			Category:      b.Category,
			Price:         b.Price,
			ImageURL:      b.ImageURL,
			StockQuantity: b.StockQuantity,
		})
	}
	return out, nil
}
