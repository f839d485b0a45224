// Package server is the HTTP surface of the orchestrator: account and
// credential management, project and workspace operations, the prompt and
// dispatch entry points that launch background planning and missions, and
// the WebSocket endpoint clients receive events on.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aura-dev/aura/internal/auth"
	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/config"
	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/store"
	"github.com/aura-dev/aura/internal/vectorctx"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

// Config wires the HTTP layer to the services it fronts.
type Config struct {
	// Settings is the loaded application configuration.
	Settings *config.Config

	Store     store.Store
	Cipher    *store.Cipher
	JWT       *auth.JWTService
	Workspace *workspace.Manager

	Bus     *bus.Bus
	Control *bus.MissionControl

	Gateway *gateway.Gateway
	Planner *planner.Service

	// Sweeper receives every opened project index for scheduled resweeps.
	// Optional.
	Sweeper *vectorctx.Sweeper

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Server is the HTTP API. One instance serves all users.
type Server struct {
	settings  *config.Config
	store     store.Store
	cipher    *store.Cipher
	jwt       *auth.JWTService
	workspace *workspace.Manager
	bus       *bus.Bus
	control   *bus.MissionControl
	gateway   *gateway.Gateway
	planner   *planner.Service
	sweeper   *vectorctx.Sweeper
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	upgrader websocket.Upgrader

	mu      sync.Mutex
	vectors map[string]*vectorctx.Service
	cancels map[string]context.CancelFunc

	httpServer *http.Server
}

// New builds the server. It does not start listening; call Run.
func New(cfg Config) *Server {
	return &Server{
		settings:  cfg.Settings,
		store:     cfg.Store,
		cipher:    cfg.Cipher,
		jwt:       cfg.JWT,
		workspace: cfg.Workspace,
		bus:       cfg.Bus,
		control:   cfg.Control,
		gateway:   cfg.Gateway,
		planner:   cfg.Planner,
		sweeper:   cfg.Sweeper,
		logger:    cfg.Logger.WithFields("component", "server"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the UI origin; token auth is
			// what gates the socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		vectors: make(map[string]*vectorctx.Service),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Handler assembles the full route table. Everything outside /auth, /healthz
// and /metrics requires a bearer token (or ?token= for WebSocket clients).
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /users/me", s.handleMe)
	api.HandleFunc("PUT /keys", s.handleUpdateKey)
	api.HandleFunc("GET /models/assignments", s.handleGetAssignments)
	api.HandleFunc("PUT /models/assignments", s.handlePutAssignments)

	api.HandleFunc("GET /projects", s.handleListProjects)
	api.HandleFunc("POST /projects/dispatch", s.handleDispatch)
	api.HandleFunc("POST /projects/{name}", s.handleCreateProject)
	api.HandleFunc("DELETE /projects/{name}", s.handleDeleteProject)
	api.HandleFunc("POST /projects/{name}/load", s.handleLoadProject)
	api.HandleFunc("POST /projects/{name}/prompt", s.handlePrompt)
	api.HandleFunc("POST /projects/{name}/stop", s.handleStop)
	api.HandleFunc("GET /projects/workspace/{name}/files", s.handleFileTree)
	api.HandleFunc("GET /projects/workspace/{name}/file", s.handleReadFile)
	api.HandleFunc("POST /projects/workspace/{name}/file", s.handleWriteFile)

	api.HandleFunc("GET /config/schema", s.handleConfigSchema)
	api.HandleFunc("GET /ws", s.handleWebSocket)

	root := http.NewServeMux()
	root.HandleFunc("POST /auth/register", s.handleRegister)
	root.HandleFunc("POST /auth/token", s.handleToken)
	root.HandleFunc("GET /healthz", s.handleHealthz)
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", auth.Middleware(s.jwt, s.logger)(api))
	return root
}

// Run serves until the context is cancelled, then drains connections and
// stops running missions.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.settings.Server.Host, s.settings.Server.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info(ctx, "http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "http shutdown error", "error", err)
	}
	s.stopAllMissions()
	s.closeVectors()
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfigSchema serves the JSON schema of the configuration file, for
// editor completion and the settings UI.
func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := config.JSONSchema()
	if err != nil {
		s.jsonDetail(w, http.StatusInternalServerError, "Failed to generate schema: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema)
}

// userContext assembles the per-request view of one user: role assignments
// (stored values over config defaults) and a credential lookup that decrypts
// on every call, so key changes apply to the next mission step.
func (s *Server) userContext(ctx context.Context, user *models.User, projectRoot string) (*models.UserContext, error) {
	assignments := make(map[models.AgentRole]models.RoleAssignment)
	for role, id := range s.settings.LLM.DefaultAssignments {
		provider, model, ok := strings.Cut(id, "/")
		if !ok {
			continue
		}
		assignments[models.AgentRole(role)] = models.RoleAssignment{
			Role:        models.AgentRole(role),
			Provider:    provider,
			Model:       model,
			Temperature: s.settings.LLM.DefaultTemperature,
		}
	}

	stored, err := s.store.Assignments(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load role assignments: %w", err)
	}
	for _, a := range stored {
		assignments[a.Role] = a
	}

	lookup := func(ctx context.Context, provider string) (string, error) {
		encrypted, err := s.store.Credential(ctx, user.ID, provider)
		if err != nil {
			return "", err
		}
		return s.cipher.Decrypt(encrypted)
	}

	return &models.UserContext{
		UserID:      user.ID,
		ProjectRoot: projectRoot,
		Assignments: assignments,
		Credentials: lookup,
	}, nil
}

// vectorFor returns the context index of one (user, project), opening and
// tracking it on first use.
func (s *Server) vectorFor(userCtx *models.UserContext, project string) (*vectorctx.Service, error) {
	key := userCtx.UserID + "/" + project

	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.vectors[key]; ok {
		return svc, nil
	}

	embedder := vectorctx.NewOpenAIEmbedder(userCtx.Credentials, s.settings.Indexer.EmbeddingModel)
	svc, err := vectorctx.Open(userCtx.ProjectRoot, embedder, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}
	s.vectors[key] = svc
	if s.sweeper != nil {
		s.sweeper.Track(key, svc)
	}
	return svc, nil
}

// dropVector closes and forgets a project index, e.g. when the project is
// deleted.
func (s *Server) dropVector(userID, project string) {
	key := userID + "/" + project

	s.mu.Lock()
	svc, ok := s.vectors[key]
	delete(s.vectors, key)
	s.mu.Unlock()

	if s.sweeper != nil {
		s.sweeper.Forget(key)
	}
	if ok {
		if err := svc.Close(); err != nil {
			s.logger.Warn(context.Background(), "close project index", "project", project, "error", err)
		}
	}
}

func (s *Server) closeVectors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, svc := range s.vectors {
		if err := svc.Close(); err != nil {
			s.logger.Warn(context.Background(), "close project index", "key", key, "error", err)
		}
	}
	s.vectors = make(map[string]*vectorctx.Service)
}

// registerMission stores the cancel handle of a running mission so a stop
// request can cut in-flight LLM streams and tool calls.
func (s *Server) registerMission(userID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[userID] = cancel
}

func (s *Server) unregisterMission(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, userID)
}

func (s *Server) cancelMission(userID string) {
	s.mu.Lock()
	cancel := s.cancels[userID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) stopAllMissions() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
