package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aura-dev/aura/internal/auth"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonDetail writes the error shape every failing endpoint uses:
// {"detail": "..."}.
func (s *Server) jsonDetail(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

// decode reads a JSON request body into v, answering 422 on malformed input.
// Returns false when the response has been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonDetail(w, http.StatusUnprocessableEntity, "Invalid request body: %v", err)
		return false
	}
	return true
}

// currentUser extracts the authenticated user the middleware stored. A nil
// return means the response has been written.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		s.jsonDetail(w, http.StatusUnauthorized, "Not authenticated")
		return nil
	}
	return user
}

// projectError maps workspace errors to API status codes.
func (s *Server) projectError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, workspace.ErrProjectNotFound):
		s.jsonDetail(w, http.StatusNotFound, "Project '%s' not found.", name)
	case errors.Is(err, workspace.ErrProjectExists):
		s.jsonDetail(w, http.StatusConflict, "Project '%s' already exists.", name)
	case errors.Is(err, workspace.ErrInvalidName):
		s.jsonDetail(w, http.StatusBadRequest, "Invalid project name '%s'.", name)
	default:
		s.jsonDetail(w, http.StatusInternalServerError, "Project operation failed: %v", err)
	}
}
