package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore/pkg/domain"
	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 24 * time.Hour

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrMissingSubject   = errors.New("token subject missing")
)

var supportedAlgorithms = map[string]jwt.SigningMethod{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// JWTOptions configures token signing and validation.
type JWTOptions struct {
	Secret    []byte
	Algorithm string
	TTL       time.Duration
	Leeway    time.Duration
	// Now overrides the clock used for issuing and validating tokens.
	Now func() time.Time
}

// JWTSessionStore issues and validates HMAC-signed access tokens.
// Tokens are self-contained; nothing is persisted.
type JWTSessionStore struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

type sessionClaims struct {
	IsAdmin bool   `json:"is_admin"`
	Type    string `json:"type"`
	jwt.RegisteredClaims
}

// NewJWTSessionStore builds a token service from explicit options.
func NewJWTSessionStore(opts JWTOptions) (*JWTSessionStore, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("jwt secret required")
	}
	alg := strings.ToUpper(strings.TrimSpace(opts.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := supportedAlgorithms[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", opts.Algorithm)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if opts.Leeway < 0 {
		return nil, errors.New("jwt leeway must be >= 0")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(opts.Secret))
	copy(secret, opts.Secret)
	return &JWTSessionStore{
		secret: secret,
		method: method,
		ttl:    ttl,
		leeway: opts.Leeway,
		now:    now,
	}, nil
}

// TTL reports the lifetime of issued tokens.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.ttl
}

// NewSession signs an access token for the subject.
func (s *JWTSessionStore) NewSession(subject string, isAdmin bool) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrMissingSubject
	}
	now := s.now().UTC()
	claims := sessionClaims{
		IsAdmin: isAdmin,
		Type:    domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token and returns its claims. Failures are reported as
// exactly one of the Err*Token kinds, checked structure first, then
// signature, expiry, type and subject.
func (s *JWTSessionStore) Decode(token string) (domain.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return domain.Claims{}, ErrMalformedToken
	}
	claims := sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Claims{}, classifyTokenError(err)
	}
	if !parsed.Valid {
		return domain.Claims{}, ErrInvalidSignature
	}
	if claims.Type != domain.TokenTypeAccess {
		return domain.Claims{}, ErrWrongTokenType
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Claims{}, ErrMissingSubject
	}
	out := domain.Claims{
		Subject: claims.Subject,
		IsAdmin: claims.IsAdmin,
		Type:    claims.Type,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// RandomSecret returns 32 random bytes for an ephemeral signing key.
// Tokens signed with it do not survive a restart.
func RandomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return buf, nil
}
