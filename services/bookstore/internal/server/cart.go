package server

import (
	"net/http"
	"strings"

	"bookstore/pkg/domain"
)

type addToCartRequest struct {
	BookID   string `json:"book_id"`
	Quantity *int   `json:"quantity"`
}

type updateCartRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		summary, err := s.app.CartSummary(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		for i, line := range summary.Items {
			summary.Items[i] = s.renderLine(line)
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodPost:
		var req addToCartRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		quantity := 1
		if req.Quantity != nil {
			quantity = *req.Quantity
		}
		line, err := s.app.AddToCart(r.Context(), user.ID, strings.TrimSpace(req.BookID), quantity)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.renderLine(line))
	case http.MethodDelete:
		removed, err := s.app.ClearCart(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Cart cleared",
			"removed": removed,
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (s *Server) handleCartLine(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/cart/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var req updateCartRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		line, err := s.app.UpdateCartLine(r.Context(), user.ID, id, req.Quantity)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.renderLine(line))
	case http.MethodDelete:
		if err := s.app.RemoveCartLine(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart"})
	default:
		methodNotAllowed(w, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
