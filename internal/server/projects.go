package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aura-dev/aura/internal/conductor"
	"github.com/aura-dev/aura/internal/missionlog"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/internal/tools/actions"
	"github.com/aura-dev/aura/internal/vectorctx"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

type promptRequest struct {
	Prompt  string               `json:"prompt"`
	History []models.ChatMessage `json:"history"`
}

type dispatchRequest struct {
	ProjectName string `json:"project_name"`
}

type fileWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handlePrompt is the single entry point for user messages. Intent is
// classified first: plan requests return 202 and run the planning pipeline
// in the background, chat requests answer inline with 200.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")

	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Prompt must not be empty.")
		return
	}

	root, err := s.workspace.ProjectRoot(user.ID, name)
	if err != nil {
		s.projectError(w, name, err)
		return
	}
	userCtx, err := s.userContext(r.Context(), user, root)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to load user settings: %v", err)
		return
	}

	if s.planner.ClassifyIntent(r.Context(), userCtx, req.History, req.Prompt) == planner.IntentChat {
		reply := s.planner.RunCompanionChat(r.Context(), userCtx, req.History, req.Prompt)
		s.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
		return
	}

	log := missionlog.Open(root, user.ID, s.bus, s.logger)
	go s.runPlanning(userCtx, name, req.Prompt, log)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Aura has received your request and is formulating a plan.",
	})
}

// runPlanning executes the planning pipeline in the background, bracketed
// by agent status events. Nothing here may crash silently.
func (s *Server) runPlanning(userCtx *models.UserContext, project, idea string, log *missionlog.Log) {
	ctx := context.Background()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error(ctx, "planning task panicked", "user_id", userCtx.UserID, "panic", fmt.Sprint(rec))
			s.bus.BroadcastToUser(userCtx.UserID, models.SystemLog(
				fmt.Sprintf("A critical error occurred while generating the plan: %v", rec), true))
		}
		s.bus.BroadcastToUser(userCtx.UserID, models.AgentStatus(models.StatusIdle))
	}()

	s.bus.BroadcastToUser(userCtx.UserID, models.AgentStatus(models.StatusThinking))
	if err := s.planner.RunPlanningWorkflow(ctx, userCtx, project, idea, log); err != nil {
		s.logger.Error(ctx, "planning workflow failed", "user_id", userCtx.UserID, "error", err)
	}
}

// handleDispatch starts mission execution. One mission per user: the
// mission-control slot is claimed before anything else is built.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	var req dispatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	root, err := s.workspace.ProjectRoot(user.ID, req.ProjectName)
	if err != nil {
		s.projectError(w, req.ProjectName, err)
		return
	}
	userCtx, err := s.userContext(r.Context(), user, root)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to load user settings: %v", err)
		return
	}

	if !s.control.SetRunning(user.ID) {
		s.jsonDetail(w, http.StatusConflict, "A mission is already running for this user.")
		return
	}

	catalog := tools.NewCatalog()
	if err := actions.Register(catalog); err != nil {
		s.control.SetFinished(user.ID)
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to build tool catalog: %v", err)
		return
	}

	var vec *vectorctx.Service
	if vec, err = s.vectorFor(userCtx, req.ProjectName); err != nil {
		s.logger.Warn(r.Context(), "project index unavailable", "project", req.ProjectName, "error", err)
		vec = nil
	}

	log := missionlog.Open(root, user.ID, s.bus, s.logger)

	missionCtx, cancel := context.WithCancel(context.Background())
	s.registerMission(user.ID, cancel)
	go s.runMission(missionCtx, cancel, userCtx, req.ProjectName, log, catalog, vec)

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Dispatch acknowledged. Aura is now executing the mission plan.",
	})
}

// runMission owns one mission's background execution: dynamic tools are
// loaded for the project, the conductor runs to a terminal state, and the
// mission slot is released no matter how the run ends.
func (s *Server) runMission(ctx context.Context, cancel context.CancelFunc, userCtx *models.UserContext,
	project string, log *missionlog.Log, catalog *tools.Catalog, vec *vectorctx.Service) {

	defer cancel()
	defer s.unregisterMission(userCtx.UserID)
	defer s.control.SetFinished(userCtx.UserID)
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error(ctx, "mission task panicked", "user_id", userCtx.UserID, "panic", fmt.Sprint(rec))
			s.bus.BroadcastToUser(userCtx.UserID, models.SystemLog(
				fmt.Sprintf("A critical error occurred during mission execution: %v", rec), true))
		}
	}()

	loader := tools.NewDynamicLoader(catalog, filepath.Join(userCtx.ProjectRoot, ".aura", "tools"), s.logger)
	defer func() {
		if err := loader.Close(); err != nil {
			s.logger.Warn(ctx, "dynamic tool loader close", "error", err)
		}
	}()
	if err := loader.Sync(ctx); err != nil {
		s.logger.Warn(ctx, "dynamic tool sync failed", "project", project, "error", err)
	}
	go func() {
		if err := loader.Watch(ctx); err != nil {
			s.logger.Warn(ctx, "dynamic tool watch stopped", "project", project, "error", err)
		}
	}()

	cond := conductor.New(conductor.Config{
		UserCtx:  userCtx,
		Project:  project,
		Log:      log,
		Catalog:  catalog,
		Runner:   tools.NewRunner(catalog, s.logger, s.metrics),
		Gateway:  s.gateway,
		Planner:  s.planner,
		Vector:   vec,
		Bus:      s.bus,
		LLM:      s.gateway,
		Notifier: s.bus,
		Control:  s.control,
		Logger:   s.logger,
		Metrics:  s.metrics,
		Tracer:   s.tracer,
	})
	cond.ExecuteMission(ctx)
}

// handleStop requests mission termination. Idempotent: repeating the call
// has no further effect.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	s.control.RequestStop(user.ID)
	s.cancelMission(user.ID)
	s.logger.Info(r.Context(), "stop requested", "user_id", user.ID, "project", r.PathValue("name"))
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Stop request acknowledged."})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	names, err := s.workspace.ListProjects(r.Context(), user.ID)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to list projects: %v", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")
	path, err := s.workspace.CreateProject(r.Context(), user.ID, name)
	if err != nil {
		s.projectError(w, name, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"message":      "Project created successfully.",
		"project_path": path,
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")
	s.dropVector(user.ID, name)
	if err := s.workspace.DeleteProject(r.Context(), user.ID, name); err != nil {
		s.projectError(w, name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadProject prepares a project for the UI and starts a one-time
// background index when the project's vector store is empty.
func (s *Server) handleLoadProject(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")
	root, err := s.workspace.ProjectRoot(user.ID, name)
	if err != nil {
		s.projectError(w, name, err)
		return
	}
	userCtx, err := s.userContext(r.Context(), user, root)
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to load user settings: %v", err)
		return
	}

	message := fmt.Sprintf("Project '%s' loaded successfully.", name)

	vec, err := s.vectorFor(userCtx, name)
	if err != nil {
		s.logger.Warn(r.Context(), "project index unavailable", "project", name, "error", err)
		s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
		return
	}
	count, err := vec.Count(r.Context())
	if err == nil && count == 0 {
		message += " Initial project scan for AI context has been started in the background."
		go func() {
			ctx := context.Background()
			if err := vec.ReindexProject(ctx); err != nil {
				s.logger.Warn(ctx, "initial project index failed", "project", name, "error", err)
			}
		}()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")
	tree, err := s.workspace.FileTree(user.ID, name)
	if err != nil {
		s.projectError(w, name, err)
		return
	}
	if tree == nil {
		tree = []models.FileNode{}
	}
	s.writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")
	path := r.URL.Query().Get("path")
	if path == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Query parameter 'path' is required.")
		return
	}

	content, err := s.workspace.ReadFile(user.ID, name, path)
	switch {
	case errors.Is(err, workspace.ErrFileNotFound):
		s.jsonDetail(w, http.StatusNotFound, "File not found at path: '%s'.", path)
		return
	case errors.Is(err, workspace.ErrPathEscape):
		s.jsonDetail(w, http.StatusBadRequest, "Invalid file path.")
		return
	case errors.Is(err, workspace.ErrProjectNotFound):
		s.projectError(w, name, err)
		return
	case err != nil:
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to read file: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// handleWriteFile saves a workspace file from the editor and reindexes it in
// the background so retrieval sees the new content.
func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	name := r.PathValue("name")

	var req fileWriteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Invalid file path or failed to write file.")
		return
	}

	root, err := s.workspace.ProjectRoot(user.ID, name)
	if err != nil {
		s.projectError(w, name, err)
		return
	}
	if _, err := s.workspace.WriteFile(user.ID, name, req.Path, req.Content); err != nil {
		if errors.Is(err, workspace.ErrPathEscape) || errors.Is(err, workspace.ErrInvalidName) {
			s.jsonDetail(w, http.StatusBadRequest, "Invalid file path or failed to write file.")
			return
		}
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to write file: %v", err)
		return
	}

	userCtx, err := s.userContext(r.Context(), user, root)
	if err == nil {
		if vec, verr := s.vectorFor(userCtx, name); verr == nil {
			go func() {
				ctx := context.Background()
				if err := vec.ReindexFile(ctx, req.Path, req.Content); err != nil {
					s.logger.Warn(ctx, "background reindex failed", "path", req.Path, "error", err)
				}
			}()
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
