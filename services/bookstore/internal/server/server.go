package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookstore/internal/metrics"
	"bookstore/internal/ratelimit"
	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/services/bookstore/internal/app"
)

const (
	maxJSONBytes         = 1 << 20
	defaultMaxImageBytes = 5 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        *ratelimit.Limiter
	LoginRule      ratelimit.Rule
	RegisterRule   ratelimit.Rule
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	ImageBaseURL   string

	// ImageRoot is served under /images/ when covers live on local disk.
	ImageRoot     string
	MaxImageBytes int64
}

// Server exposes the bookstore HTTP API.
type Server struct {
	app            *app.App
	limiter        *ratelimit.Limiter
	loginRule      ratelimit.Rule
	registerRule   ratelimit.Rule
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	imageBaseURL   string
	imageRoot      string
	maxImageBytes  int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	if cfg.Limiter == nil && (cfg.LoginRule.Enabled() || cfg.RegisterRule.Enabled()) {
		return nil, errors.New("rate limits configured without a limiter")
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		loginRule:      withScope(cfg.LoginRule, "login"),
		registerRule:   withScope(cfg.RegisterRule, "register"),
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		imageBaseURL:   strings.TrimRight(strings.TrimSpace(cfg.ImageBaseURL), "/"),
		imageRoot:      strings.TrimSpace(cfg.ImageRoot),
		maxImageBytes:  maxImageBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func withScope(rule ratelimit.Rule, scope string) ratelimit.Rule {
	if rule.Scope == "" {
		rule.Scope = scope
	}
	if rule.Limit > 0 && rule.Window <= 0 {
		rule.Window = time.Minute
	}
	return rule
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("bookstore",
			metrics.InstrumentHandler(
				util.WithSecurityHeaders(
					util.WithCORS(s.allowedOrigins, s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// accounts
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.Handle("/users/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)
	s.mux.HandleFunc("/categories", s.handleCategories)
	s.mux.HandleFunc("/search", s.handleSearch)

	// cart
	s.mux.Handle("/cart", s.authenticated(s.handleCart))
	s.mux.Handle("/cart/", s.authenticated(s.handleCartLine))

	// admin
	s.mux.Handle("/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/admin/users/", s.adminOnly(s.handleAdminUserAction))
	s.mux.Handle("/admin/stats", s.adminOnly(s.handleAdminStats))

	switch {
	case s.imageRoot != "":
		s.mux.Handle("/images/", http.StripPrefix("/images/", noDirectoryListing(http.FileServer(http.Dir(s.imageRoot)))))
	case s.app.ImageLinksPresigned():
		s.mux.Handle("/images/", http.StripPrefix("/images/", http.HandlerFunc(s.handleImageRedirect)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := s.authorize(w, r)
		if !ok {
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, claims, ok := s.authorize(w, r)
		if !ok {
			return
		}
		if err := s.app.RequireAdmin(claims); err != nil {
			s.audit(r, "bookstore.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			metrics.RecordAuthFailure("forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

// authorize resolves the bearer token and writes the error response itself
// when it fails.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (domain.User, domain.Claims, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "bookstore.token.verify", "fail", "reason", "missing_token")
		metrics.RecordAuthFailure("missing_token")
		writeUnauthorized(w)
		return domain.User{}, domain.Claims{}, false
	}
	user, claims, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, app.ErrAuthenticationFailed) {
			writeAppError(w, r, err)
			return domain.User{}, domain.Claims{}, false
		}
		s.audit(r, "bookstore.token.verify", "fail", "reason", err.Error())
		metrics.RecordAuthFailure("invalid_token")
		writeUnauthorized(w)
		return domain.User{}, domain.Claims{}, false
	}
	return user, claims, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate applies rule to the client address and writes the 429 response
// when the request is over the limit.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, rule ratelimit.Rule, msg string) bool {
	if s.limiter == nil || !rule.Enabled() {
		return true
	}
	decision, err := s.limiter.Allow(r.Context(), rule, util.ClientIP(r, s.trustedProxies))
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "scope", rule.Scope, "err", err)
	}
	if decision.Allowed {
		return true
	}
	s.audit(r, "bookstore."+rule.Scope, "rate_limited")
	metrics.RecordRateLimited(rule.Scope)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// handleImageRedirect sends clients to a pre-signed object storage link.
func (s *Server) handleImageRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	link, err := s.app.ImageLink(r.Context(), r.URL.Path)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link, http.StatusFound)
}

func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// imageURL renders a stored image reference for clients. Absolute URLs and
// rooted paths pass through unchanged.
func (s *Server) imageURL(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "/"):
		return ref
	case s.imageBaseURL == "":
		return ref
	default:
		return s.imageBaseURL + "/" + ref
	}
}

func (s *Server) renderBook(b domain.Book) domain.Book {
	b.ImageURL = s.imageURL(b.ImageURL)
	return b
}

func (s *Server) renderBooks(books []domain.Book) []domain.Book {
	out := make([]domain.Book, 0, len(books))
	for _, b := range books {
		out = append(out, s.renderBook(b))
	}
	return out
}

func (s *Server) renderLine(line domain.CartLine) domain.CartLine {
	if line.Book != nil {
		book := s.renderBook(*line.Book)
		line.Book = &book
	}
	return line
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, codeForStatus(status), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeErrorCode(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "FILE_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}

// writeAppError maps an app error kind to its status and code. Internal
// causes are logged, never returned.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeErrorCode(w, status, code, "internal error")
		return
	}
	writeErrorCode(w, status, code, app.PublicMessage(err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrStorageFailure):
		return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, app.ErrInsufficientStock):
		return http.StatusBadRequest, "INSUFFICIENT_STOCK"
	case errors.Is(err, app.ErrWeakPassword):
		return http.StatusBadRequest, "WEAK_PASSWORD"
	case errors.Is(err, app.ErrDuplicateIdentity):
		return http.StatusBadRequest, "DUPLICATE_IDENTITY"
	case errors.Is(err, app.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"
	case errors.Is(err, app.ErrAuthorizationDenied):
		return http.StatusForbidden, "AUTH_FORBIDDEN"
	case errors.Is(err, app.ErrImagesDisabled):
		return http.StatusServiceUnavailable, "IMAGES_DISABLED"
	default:
		return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	}
}
