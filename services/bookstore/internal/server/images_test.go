package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
	"bookstore/services/bookstore/internal/app"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)

func (e *testEnv) upload(t *testing.T, token, bookID, filename string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, e.srv.URL+"/books/"+bookID+"/image", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read upload body: %v", err)
	}
	return resp, data
}

func TestBookImageUploadAndServe(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	env := newTestEnv(t, app.Config{Images: files}, func(cfg *Config) {
		cfg.ImageBaseURL = "/images"
		cfg.ImageRoot = files.Root()
		cfg.MaxImageBytes = 1024
	})
	adminToken := env.adminToken(t)
	book := env.createBook(t, adminToken, domain.BookInput{Title: "Cover", Author: "A", Category: "C", Price: 1})

	resp, data := env.upload(t, adminToken, book.ID, "front.png", pngBytes)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.StatusCode, data)
	}
	var updated domain.Book
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	want := "/images/books/" + book.ID + "/front.png"
	if updated.ImageURL != want {
		t.Fatalf("image url = %q, want %q", updated.ImageURL, want)
	}

	resp, data = env.do(t, http.MethodGet, want, "", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(data, pngBytes) {
		t.Fatalf("serve image: %d (%d bytes)", resp.StatusCode, len(data))
	}
	resp, _ = env.do(t, http.MethodGet, "/images/books/", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("directory listing should be hidden, got %d", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodGet, "/books/"+book.ID, "", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(want)) {
		t.Fatalf("book view should carry rendered url: %s", data)
	}
}

func TestBookImageUploadRejectsBadFiles(t *testing.T) {
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	env := newTestEnv(t, app.Config{Images: files}, func(cfg *Config) {
		cfg.MaxImageBytes = 128
	})
	adminToken := env.adminToken(t)
	userToken := env.userToken(t, "visitor")
	book := env.createBook(t, adminToken, domain.BookInput{Title: "Cover", Author: "A", Category: "C", Price: 1})

	resp, data := env.upload(t, adminToken, book.ID, "notes.txt", []byte("plain text is not an image"))
	if resp.StatusCode != http.StatusBadRequest || decodeError(t, data).Error != "unsupported file type" {
		t.Fatalf("text upload: %d %s", resp.StatusCode, data)
	}
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0}, 256)...)
	resp, data = env.upload(t, adminToken, book.ID, "big.png", big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload: %d %s", resp.StatusCode, data)
	}
	resp, _ = env.upload(t, userToken, book.ID, "front.png", pngBytes)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin upload: %d", resp.StatusCode)
	}
	resp, _ = env.upload(t, adminToken, "missing", "front.png", pngBytes)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown book upload: %d", resp.StatusCode)
	}
}

func TestBookImageUploadDisabled(t *testing.T) {
	env := newTestEnv(t, app.Config{}, nil)
	adminToken := env.adminToken(t)
	book := env.createBook(t, adminToken, domain.BookInput{Title: "Plain", Author: "A", Category: "C", Price: 1})

	resp, data := env.upload(t, adminToken, book.ID, "front.png", pngBytes)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", resp.StatusCode, data)
	}
	if got := decodeError(t, data); got.Code != "IMAGES_DISABLED" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

type presigningImages struct {
	stored map[string][]byte
}

func (p *presigningImages) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.stored[key] = data
	return nil
}

func (p *presigningImages) Delete(_ context.Context, key string) error {
	delete(p.stored, key)
	return nil
}

func (p *presigningImages) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.example.com/covers/%s?expires=%d", key, int(expiry.Seconds())), nil
}

func TestBookImageRedirectsToPresignedLink(t *testing.T) {
	objects := &presigningImages{stored: map[string][]byte{}}
	env := newTestEnv(t, app.Config{Images: objects, ImageURLExpiry: 10 * time.Minute}, func(cfg *Config) {
		cfg.ImageBaseURL = "/images"
	})
	adminToken := env.adminToken(t)
	book := env.createBook(t, adminToken, domain.BookInput{Title: "Remote", Author: "A", Category: "C", Price: 1})

	resp, data := env.upload(t, adminToken, book.ID, "front.png", pngBytes)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.StatusCode, data)
	}
	var updated domain.Book
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	key := "books/" + book.ID + "/front.png"
	if !bytes.Equal(objects.stored[key], pngBytes) {
		t.Fatalf("expected cover stored under %s", key)
	}
	if updated.ImageURL != "/images/"+key {
		t.Fatalf("image url = %q", updated.ImageURL)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	get := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, env.srv.URL+path, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		resp.Body.Close()
		return resp
	}

	resp = get(http.MethodGet, updated.ImageURL)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	want := "https://objects.example.com/covers/" + key + "?expires=600"
	if got := resp.Header.Get("Location"); got != want {
		t.Fatalf("location = %q, want %q", got, want)
	}

	if resp := get(http.MethodGet, "/images/secrets.txt"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 outside book covers, got %d", resp.StatusCode)
	}
	if resp := get(http.MethodPost, updated.ImageURL); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
