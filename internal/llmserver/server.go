// Package llmserver implements the provider-abstracting model service the
// orchestrator's gateway calls. POST /invoke runs one streaming chat
// completion against the named provider and relays it as NDJSON records:
// chunk records for plain replies, phase records while a blueprint JSON is
// being written, and a terminal final_response carrying the assembled reply.
//
// Credentials travel with each request in the X-Provider-API-Key header;
// the service stores none of its own.
package llmserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// Config wires the service's collaborators.
type Config struct {
	// Addr is the listen address, for example ":8001".
	Addr string

	// Providers overrides the built-in provider set. Nil means the
	// default anthropic and openai backends.
	Providers map[string]Factory

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the /invoke NDJSON service.
type Server struct {
	addr       string
	providers  map[string]Factory
	logger     *observability.Logger
	metrics    *observability.Metrics
	httpServer *http.Server
}

// New builds the service.
func New(cfg Config) *Server {
	providers := cfg.Providers
	if providers == nil {
		providers = defaultFactories()
	}
	return &Server{
		addr:      cfg.Addr,
		providers: providers,
		logger:    cfg.Logger.WithFields("component", "llmserver"),
		metrics:   cfg.Metrics,
	}
}

// invokeRequest is the wire body for POST /invoke.
type invokeRequest struct {
	ProviderName string               `json:"provider_name"`
	ModelName    string               `json:"model_name"`
	Messages     []models.ChatMessage `json:"messages"`
	Temperature  float64              `json:"temperature"`
	IsJSON       bool                 `json:"is_json"`
	Tools        []ToolSchema         `json:"tools"`
}

// streamRecord is one NDJSON line sent to the caller.
type streamRecord struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// finalRecord closes the stream with the assembled reply.
type finalRecord struct {
	FinalResponse struct {
		Reply string `json:"reply"`
	} `json:"final_response"`
}

func newFinalRecord(reply string) finalRecord {
	var rec finalRecord
	rec.FinalResponse.Reply = reply
	return rec
}

// Handler returns the service's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info(ctx, "llm server listening", "addr", s.addr)

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
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// jsonDetail writes an error response in the {"detail": ...} shape the
// orchestrator surfaces to users.
func (s *Server) jsonDetail(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": fmt.Sprintf(format, args...)})
}

// supported lists the configured provider names, sorted.
func (s *Server) supported() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.Header.Get("X-Provider-API-Key"))
	if apiKey == "" {
		s.jsonDetail(w, http.StatusBadRequest, "Provider API key is missing from headers.")
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonDetail(w, http.StatusUnprocessableEntity, "Invalid request body: %v", err)
		return
	}

	factory, ok := s.providers[req.ProviderName]
	if !ok {
		s.jsonDetail(w, http.StatusBadRequest,
			"Provider '%s' is not supported. Supported providers are: %s",
			req.ProviderName, strings.Join(s.supported(), ", "))
		return
	}
	provider := factory(apiKey)

	ctx := r.Context()
	s.logger.Info(ctx, "invoke", "provider", req.ProviderName, "model", req.ModelName,
		"is_json", req.IsJSON, "tools", len(req.Tools))

	w.Header().Set("Content-Type", "application/x-ndjson")
	s.streamResponse(ctx, w, provider, req)
}

// streamResponse relays one provider stream as NDJSON records and closes it
// with a final_response. Provider failures become a system_log record plus
// an "Error:" reply value, so the orchestrator's callers can branch on the
// reply without parsing transport errors.
func (s *Server) streamResponse(ctx context.Context, w http.ResponseWriter, provider Provider, req invokeRequest) {
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	write := func(record any) {
		if err := enc.Encode(record); err != nil {
			s.logger.Warn(ctx, "stream write failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	start := time.Now()
	chunks := provider.Stream(ctx, Request{
		Model:       req.ModelName,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		JSONMode:    req.IsJSON,
		Tools:       req.Tools,
	})

	var full strings.Builder
	var scanner phaseScanner
	for chunk := range chunks {
		if chunk.Err != nil {
			s.logger.Error(ctx, "provider stream failed", "provider", provider.Name(), "error", chunk.Err)
			s.metrics.RecordError("llmserver", "provider_stream_failed")
			s.metrics.RecordLLMRequest("invoke", provider.Name(), req.ModelName, "error", time.Since(start).Seconds())
			write(streamRecord{Type: "system_log", Content: fmt.Sprintf("Error during streaming: %v", chunk.Err), IsError: true})
			write(newFinalRecord(fmt.Sprintf("Error: %v", chunk.Err)))
			return
		}

		full.WriteString(chunk.Text)
		if req.IsJSON {
			for _, note := range scanner.feed(chunk.Text) {
				write(streamRecord{Type: "phase", Content: note})
			}
		} else {
			write(streamRecord{Type: "chunk", Content: chunk.Text})
		}
	}

	s.metrics.RecordLLMRequest("invoke", provider.Name(), req.ModelName, "success", time.Since(start).Seconds())
	write(newFinalRecord(full.String()))
}
