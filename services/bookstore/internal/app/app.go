package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
)

const defaultImageURLExpiry = 15 * time.Minute

// TokenService issues and verifies session tokens.
type TokenService interface {
	NewSession(subject string, isAdmin bool) (string, error)
	Decode(token string) (domain.Claims, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string

	SecretKey string
	Algorithm string
	TokenTTL  time.Duration

	ImageDir       string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ImageURLExpiry time.Duration

	// Prebuilt collaborators take precedence over the settings above.
	Store    store.Store
	Sessions TokenService
	Images   storage.ObjectStore
	Now      func() time.Time
}

// App is the bookstore core: accounts, catalog, inventory, and carts over
// one Store.
type App struct {
	store          store.Store
	sessions       TokenService
	images         storage.ObjectStore
	imageURLExpiry time.Duration
	now            func() time.Time
}

// New wires the application, opening Postgres and object storage when no
// prebuilt collaborators are supplied.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = gormStore
	}

	sessions := cfg.Sessions
	if sessions == nil {
		secret := []byte(cfg.SecretKey)
		if len(secret) == 0 {
			generated, err := store.RandomSecret()
			if err != nil {
				return nil, err
			}
			secret = generated
			slog.Warn("SECRET_KEY not set; using an ephemeral signing secret, tokens will not survive a restart")
		}
		jwtStore, err := store.NewJWTSessionStore(store.JWTOptions{
			Secret:    secret,
			Algorithm: cfg.Algorithm,
			TTL:       cfg.TokenTTL,
			Now:       cfg.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("init token service: %w", err)
		}
		sessions = jwtStore
	}

	images := cfg.Images
	if images == nil {
		switch {
		case cfg.MinioEndpoint != "":
			minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
			if err != nil {
				return nil, fmt.Errorf("init minio: %w", err)
			}
			images = minioStore
		case cfg.ImageDir != "":
			fileStore, err := storage.NewFileStore(cfg.ImageDir)
			if err != nil {
				return nil, fmt.Errorf("init image dir: %w", err)
			}
			images = fileStore
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	imageURLExpiry := cfg.ImageURLExpiry
	if imageURLExpiry <= 0 {
		imageURLExpiry = defaultImageURLExpiry
	}
	return &App{
		store:          dataStore,
		sessions:       sessions,
		images:         images,
		imageURLExpiry: imageURLExpiry,
		now:            now,
	}, nil
}

// Ping checks the storage collaborator.
func (a *App) Ping(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

// Close releases the storage connection when the store owns one.
func (a *App) Close() error {
	if closer, ok := a.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (a *App) timestamp() time.Time {
	return a.now().UTC()
}
