package server

import (
	"fmt"
	"net/http"
	"strings"

	"bookstore/pkg/domain"
)

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	users, err := s.app.ListUsers(r.Context(), skip, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleAdminUserAction serves /admin/users/{username}/make-admin.
func (s *Server) handleAdminUserAction(w http.ResponseWriter, r *http.Request, admin domain.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/")
	username, action, ok := strings.Cut(rest, "/")
	if !ok || username == "" || action != "make-admin" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	user, changed, err := s.app.PromoteUser(r.Context(), username)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	msg := fmt.Sprintf("User %s is now an admin", user.Username)
	if !changed {
		msg = fmt.Sprintf("User %s is already an admin", user.Username)
	}
	s.audit(r, "bookstore.admin.promote", "success", "user_id", admin.ID, "target", user.ID, "changed", changed)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"user":    user,
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	stats, err := s.app.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	stats.RecentBooks = s.renderBooks(stats.RecentBooks)
	writeJSON(w, http.StatusOK, stats)
}
