package server

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-dev/aura/internal/auth"
	"github.com/aura-dev/aura/internal/store"
	"github.com/aura-dev/aura/pkg/models"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type keyUpdateRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

// assignmentsUpdateRequest replaces role assignments. Models are
// "provider/model" identifiers keyed by role; temperatures are optional.
type assignmentsUpdateRequest struct {
	Assignments  map[string]string  `json:"assignments"`
	Temperatures map[string]float64 `json:"temperatures"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to register user: %v", err)
		return
	}

	record := &store.UserRecord{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), record); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			s.jsonDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to register user: %v", err)
		return
	}

	s.logger.Info(r.Context(), "user registered", "user_id", record.ID)
	s.writeJSON(w, http.StatusCreated, record.User())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !s.decode(w, r, &req) {
		return
	}

	record, err := s.store.UserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !auth.VerifyPassword(record.PasswordHash, req.Password) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.jsonDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	token, err := s.jwt.Generate(record.User())
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to issue token: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	// The token only carries id and email; serve the stored record.
	record, err := s.store.UserByID(r.Context(), user.ID)
	if err != nil {
		s.jsonDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	s.writeJSON(w, http.StatusOK, record.User())
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	var req keyUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" || strings.TrimSpace(req.APIKey) == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Provider and api_key are required.")
		return
	}

	encrypted, err := s.cipher.Encrypt(strings.TrimSpace(req.APIKey))
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to encrypt key: %v", err)
		return
	}
	if err := s.store.UpsertCredential(r.Context(), user.ID, req.Provider, encrypted); err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to store key: %v", err)
		return
	}

	s.logger.Info(r.Context(), "api key updated", "user_id", user.ID, "provider", req.Provider)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "API key updated successfully"})
}

func (s *Server) handleGetAssignments(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	assignments, err := s.store.Assignments(r.Context(), user.ID)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to load assignments: %v", err)
		return
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].Role < assignments[j].Role })
	s.writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (s *Server) handlePutAssignments(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	var req assignmentsUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	for role, id := range req.Assignments {
		provider, model, ok := strings.Cut(id, "/")
		if !ok || provider == "" || model == "" {
			s.jsonDetail(w, http.StatusBadRequest,
				"Invalid model identifier %q for role %q; expected \"provider/model\".", id, role)
			return
		}
		assignment := models.RoleAssignment{
			Role:        models.AgentRole(role),
			Provider:    provider,
			Model:       model,
			Temperature: s.settings.LLM.DefaultTemperature,
		}
		if temp, ok := req.Temperatures[role]; ok {
			assignment.Temperature = temp
		}
		if err := s.store.UpsertAssignment(r.Context(), user.ID, assignment); err != nil {
			s.jsonDetail(w, http.StatusInternalServerError, "Failed to store assignment for %q: %v", role, err)
			return
		}
	}

	s.logger.Info(r.Context(), "model assignments updated", "user_id", user.ID, "count", len(req.Assignments))
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Model assignments updated successfully"})
}
