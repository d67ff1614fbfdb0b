package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"bookstore/pkg/domain"
	"bookstore/services/bookstore/internal/app"
)

var allowedImageTypes = map[string]struct{}{
	"image/gif":  {},
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBooks(w, r)
	case http.MethodPost:
		s.adminOnly(s.handleCreateBook).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleBookByID serves /books/bulk, /books/{id} and /books/{id}/image.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/books/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if rest == "bulk" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.adminOnly(s.handleBulkCreate).ServeHTTP(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
	case "image":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPut, http.MethodPost)
			return
		}
		s.adminOnly(func(w http.ResponseWriter, r *http.Request, _ domain.User) {
			s.handleBookImage(w, r, id)
		}).ServeHTTP(w, r)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.renderBook(book))
	case http.MethodPut, http.MethodPatch:
		s.adminOnly(func(w http.ResponseWriter, r *http.Request, _ domain.User) {
			s.handleUpdateBook(w, r, id)
		}).ServeHTTP(w, r)
	case http.MethodDelete:
		s.adminOnly(func(w http.ResponseWriter, r *http.Request, _ domain.User) {
			if err := s.app.DeleteBook(r.Context(), id); err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Book deleted successfully"})
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.app.ListBooks(r.Context(), params)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	page.Books = s.renderBooks(page.Books)
	writeJSON(w, http.StatusOK, page)
}

func listParams(r *http.Request) (app.ListBooksParams, error) {
	q := r.URL.Query()
	p := app.ListBooksParams{
		Category:  q.Get("category"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	var err error
	if p.Page, err = queryInt(r, "page"); err != nil {
		return p, err
	}
	if p.PerPage, err = queryInt(r, "per_page"); err != nil {
		return p, err
	}
	if p.MinPrice, err = queryFloat(r, "min_price"); err != nil {
		return p, err
	}
	if p.MaxPrice, err = queryFloat(r, "max_price"); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	categories, err := s.app.Categories(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	books, err := s.app.SearchBooks(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderBooks(books))
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in domain.BookInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.CreateBook(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "bookstore.book.create", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusCreated, s.renderBook(book))
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request, user domain.User) {
	var inputs []domain.BookInput
	if err := decodeJSON(r, &inputs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result := s.app.BulkCreateBooks(r.Context(), inputs)
	s.audit(r, "bookstore.book.bulk_create", "success", "user_id", user.ID, "created", result.SuccessCount, "failed", result.FailedCount)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, id string) {
	var patch domain.BookPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateBook(r.Context(), id, patch)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderBook(book))
}

func (s *Server) handleBookImage(w http.ResponseWriter, r *http.Request, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if header.Size > s.maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if _, ok := allowedImageTypes[contentType]; !ok {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	body := io.MultiReader(bytes.NewReader(head), file)
	book, err := s.app.SetBookImage(r.Context(), id, path.Base(header.Filename), contentType, body, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderBook(book))
}
