package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"bookstore/internal/util"
	"bookstore/pkg/auth"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

const (
	maxUsernameLen = 50
	maxEmailLen    = 100

	defaultUserPageSize = 100
	maxUserPageSize     = 1000
)

const invalidCredentials = "Invalid username or password"

// Register creates a regular (non-admin) account.
func (a *App) Register(ctx context.Context, username, email, password string) (domain.User, error) {
	return a.createUser(ctx, username, email, password, false)
}

func (a *App) createUser(ctx context.Context, username, email, password string, isAdmin bool) (domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateIdentity(username, email); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if auth.IsWeakPassword(err) {
			return domain.User{}, &Error{Kind: ErrWeakPassword, Message: err.Error()}
		}
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    a.timestamp(),
	}
	err = a.store.Transaction(ctx, func(tx store.Store) error {
		if _, exists, err := tx.GetUserByUsername(ctx, username); err != nil {
			return storageError("lookup username", err)
		} else if exists {
			return newError(ErrDuplicateIdentity, "Username already registered")
		}
		if _, exists, err := tx.GetUserByEmail(ctx, email); err != nil {
			return storageError("lookup email", err)
		} else if exists {
			return newError(ErrDuplicateIdentity, "Email already registered")
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			// A concurrent registration won the unique index.
			if errors.Is(err, store.ErrDuplicate) {
				return &Error{Kind: ErrDuplicateIdentity, Message: "Username or email already registered", Cause: err}
			}
			return storageError("create user", err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("user registered", "user_id", user.ID, "username", user.Username, "is_admin", user.IsAdmin)
	return user, nil
}

func validateIdentity(username, email string) error {
	if username == "" || email == "" {
		return newError(ErrInvalidInput, "username and email are required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return newError(ErrInvalidInput, fmt.Sprintf("username must be at most %d characters", maxUsernameLen))
	}
	if utf8.RuneCountInString(email) > maxEmailLen {
		return newError(ErrInvalidInput, fmt.Sprintf("email must be at most %d characters", maxEmailLen))
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return newError(ErrInvalidInput, "invalid email address")
	}
	return nil
}

// Login verifies credentials and issues an access token. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (a *App) Login(ctx context.Context, username, password string) (string, domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", domain.User{}, newError(ErrAuthenticationFailed, invalidCredentials)
	}
	user, ok, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", domain.User{}, storageError("lookup user", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		util.LoggerFromContext(ctx).Warn("login rejected", "username", username, "known_user", ok)
		return "", domain.User{}, newError(ErrAuthenticationFailed, invalidCredentials)
	}
	token, err := a.sessions.NewSession(user.Username, user.IsAdmin)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("issue session: %w", err)
	}
	return token, user, nil
}

// Authenticate decodes a bearer token and resolves its subject to a user.
// Every decode failure collapses to ErrAuthenticationFailed; the specific
// token error stays in Cause for server-side logging.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, domain.Claims, error) {
	claims, err := a.sessions.Decode(token)
	if err != nil {
		return domain.User{}, domain.Claims{}, &Error{Kind: ErrAuthenticationFailed, Message: "Could not validate credentials", Cause: err}
	}
	user, ok, err := a.store.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		return domain.User{}, domain.Claims{}, storageError("lookup token subject", err)
	}
	if !ok {
		return domain.User{}, domain.Claims{}, &Error{
			Kind:    ErrAuthenticationFailed,
			Message: "Could not validate credentials",
			Cause:   fmt.Errorf("unknown subject %q", claims.Subject),
		}
	}
	return user, claims, nil
}

// RequireAdmin trusts the admin flag embedded in the token at issuance. A
// user demoted afterwards keeps admin rights until the token expires, so the
// staleness window is bounded by the token TTL.
func (a *App) RequireAdmin(claims domain.Claims) error {
	if !claims.IsAdmin {
		return newError(ErrAuthorizationDenied, "Admin access required")
	}
	return nil
}

// ListUsers pages through all accounts. limit 0 selects the default page size.
func (a *App) ListUsers(ctx context.Context, skip, limit int) ([]domain.User, error) {
	if limit == 0 {
		limit = defaultUserPageSize
	}
	if skip < 0 {
		return nil, newError(ErrInvalidInput, "skip must be >= 0")
	}
	if limit < 1 || limit > maxUserPageSize {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("limit must be between 1 and %d", maxUserPageSize))
	}
	users, err := a.store.ListUsers(ctx, skip, limit)
	if err != nil {
		return nil, storageError("list users", err)
	}
	return users, nil
}

// PromoteUser grants admin rights. It reports whether the flag changed.
func (a *App) PromoteUser(ctx context.Context, username string) (domain.User, bool, error) {
	var (
		user    domain.User
		changed bool
	)
	err := a.store.Transaction(ctx, func(tx store.Store) error {
		found, ok, err := tx.GetUserByUsername(ctx, strings.TrimSpace(username))
		if err != nil {
			return storageError("lookup user", err)
		}
		if !ok {
			return newError(ErrNotFound, "User not found")
		}
		user = found
		if user.IsAdmin {
			return nil
		}
		if err := tx.SetUserAdmin(ctx, user.ID, true); err != nil {
			return storageError("promote user", err)
		}
		user.IsAdmin = true
		changed = true
		return nil
	})
	if err != nil {
		return domain.User{}, false, err
	}
	if changed {
		util.LoggerFromContext(ctx).Info("user promoted to admin", "user_id", user.ID, "username", user.Username)
	}
	return user, changed, nil
}

// EnsureAdmin creates the admin account or promotes an existing user with
// that username. It reports whether a new account was created.
func (a *App) EnsureAdmin(ctx context.Context, username, email, password string) (domain.User, bool, error) {
	_, ok, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, false, storageError("lookup user", err)
	}
	if ok {
		user, _, err := a.PromoteUser(ctx, username)
		return user, false, err
	}
	user, err := a.createUser(ctx, username, email, password, true)
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}
