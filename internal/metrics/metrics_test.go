package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoute(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/books":                       "/books",
		"/books/":                      "/books",
		"/books/bulk":                  "/books/bulk",
		"/books/abc-123":               "/books/:id",
		"/books/abc-123/image":         "/books/:id/image",
		"/cart/line-9":                 "/cart/:id",
		"/admin/users/asha/make-admin": "/admin/users/:username/make-admin",
		"/admin/stats":                 "/admin/stats",
		"/images/books/x/front.png":    "/images",
		"/users/me":                    "/users/me",
		"/wp-login.php":                "other",
		"/books/a/b/c/d":               "other",
	}
	for path, want := range cases {
		if got := Route(path); got != want {
			t.Fatalf("Route(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestInstrumentHandlerCountsByRoute(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/books/:id", "404"))
	for _, path := range []string{"/books/one", "/books/missing", "/books/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/books/:id", "404")) - before; got != 2 {
		t.Fatalf("expected 2 not-found requests, got %v", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(rateLimited.WithLabelValues("login"))
	RecordRateLimited("login")
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("login")) - before; got != 1 {
		t.Fatalf("rate limited counter delta = %v", got)
	}
	RecordAuthFailure("")
	if got := testutil.ToFloat64(authFailures.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("auth failure counter = %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordAuthFailure("invalid_token")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bookstore_auth_failures_total") {
		t.Fatalf("metrics output missing auth counter")
	}
}
