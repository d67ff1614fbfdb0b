package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8

	// PasswordSymbols is the set of symbols accepted by the password policy.
	PasswordSymbols = "@$!%*?&"
)

// WeakPasswordError reports which password policy rule was violated.
type WeakPasswordError struct {
	Reason string
}

func (e *WeakPasswordError) Error() string {
	return e.Reason
}

// ValidatePassword enforces the password policy: at least 8 characters drawn
// from ASCII letters, digits and PasswordSymbols, with at least one of each
// class (lowercase, uppercase, digit, symbol).
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return &WeakPasswordError{Reason: "Password must be at least 8 characters long"}
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(PasswordSymbols, r):
			hasSymbol = true
		default:
			return &WeakPasswordError{Reason: "Password may only contain letters, digits and the symbols " + PasswordSymbols}
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return &WeakPasswordError{Reason: "Password must contain at least one uppercase letter, one lowercase letter, one digit, and one special character (" + PasswordSymbols + ")"}
	}
	return nil
}

// HashPassword validates the password and returns a bcrypt digest.
// Each call uses a fresh salt, so equal passwords yield different digests.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// CheckPassword reports whether password matches the stored bcrypt digest.
// Malformed digests and empty inputs are treated as a mismatch.
func CheckPassword(password, digest string) bool {
	if password == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// IsWeakPassword reports whether err is a password policy violation.
func IsWeakPassword(err error) bool {
	var weak *WeakPasswordError
	return errors.As(err, &weak)
}
