// Package gateway is the single funnel for LLM calls. Every agent role goes
// through one streaming request to the model service; stream records are
// forwarded to the notification bus as they arrive and the final reply is
// returned to the caller.
//
// Stream-level failures are values, not Go errors: the gateway returns a
// string prefixed "Error:" and the planner and conductor branch on it. This
// keeps the mission loop free of transport error handling.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// streamScanBuffer bounds one NDJSON line; generated code chunks stay far
// below this.
const streamScanBuffer = 1 << 20

// Notifier publishes stream records to a user's clients.
type Notifier interface {
	BroadcastToUser(userID string, event models.Event)
}

// Request describes one LLM call.
type Request struct {
	// Role picks the per-user model assignment.
	Role models.AgentRole

	// Messages is the full conversation to send.
	Messages []models.ChatMessage

	// IsJSON asks the provider for a JSON-mode response.
	IsJSON bool

	// Tools, when set, lets the model answer with a tool selection.
	Tools []map[string]any

	// StreamTag, when set, wraps chunk records in events of this type with
	// FilePath metadata instead of forwarding them verbatim.
	StreamTag models.EventType

	// FilePath is the file the tagged chunks belong to.
	FilePath string
}

// invokePayload is the wire body for POST /invoke.
type invokePayload struct {
	ProviderName string               `json:"provider_name"`
	ModelName    string               `json:"model_name"`
	Messages     []models.ChatMessage `json:"messages"`
	Temperature  float64              `json:"temperature"`
	IsJSON       bool                 `json:"is_json"`
	Tools        []map[string]any     `json:"tools,omitempty"`
}

// streamRecord is one NDJSON line from the model service.
type streamRecord struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
	Final   *struct {
		Reply string `json:"reply"`
	} `json:"final_response"`
}

// Gateway streams LLM calls through the model service.
type Gateway struct {
	baseURL  string
	client   *http.Client
	notifier Notifier
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// New builds a gateway for the model service at baseURL. The timeout covers
// the whole call including stream consumption.
func New(baseURL string, timeout time.Duration, notifier Notifier, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Gateway {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Gateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		notifier: notifier,
		logger:   logger.WithFields("component", "gateway"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// IsErrorReply reports whether a gateway reply is an error value.
func IsErrorReply(reply string) bool {
	return strings.HasPrefix(strings.TrimSpace(reply), "Error:")
}

// roleFallbacks is the resolution order when a role has no assignment of
// its own.
var roleFallbacks = []models.AgentRole{models.RoleCoder, models.RolePlanner, models.RoleChat}

// resolveAssignment picks the model serving a role: the role's own
// assignment, then coder, planner, chat, then any configured role.
func resolveAssignment(userCtx *models.UserContext, role models.AgentRole) (models.RoleAssignment, bool) {
	if a, ok := userCtx.Assignments[role]; ok && a.Provider != "" && a.Model != "" {
		return a, true
	}
	for _, fallback := range roleFallbacks {
		if a, ok := userCtx.Assignments[fallback]; ok && a.Provider != "" && a.Model != "" {
			return a, true
		}
	}
	roles := make([]string, 0, len(userCtx.Assignments))
	for r := range userCtx.Assignments {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	for _, r := range roles {
		if a := userCtx.Assignments[models.AgentRole(r)]; a.Provider != "" && a.Model != "" {
			return a, true
		}
	}
	return models.RoleAssignment{}, false
}

// Invoke runs one streaming LLM call and returns the final reply, or an
// "Error:" string describing why no reply could be produced.
func (g *Gateway) Invoke(ctx context.Context, userCtx *models.UserContext, req Request) string {
	if g.baseURL == "" {
		return "Error: LLM_SERVER_URL is not configured."
	}

	assignment, ok := resolveAssignment(userCtx, req.Role)
	if !ok {
		return fmt.Sprintf("Error: Missing config for role '%s' or provider '%s'. Please set it in Settings.",
			req.Role, assignment.Provider)
	}
	apiKey, err := userCtx.Credentials(ctx, assignment.Provider)
	if err != nil || apiKey == "" {
		return fmt.Sprintf("Error: Missing config for role '%s' or provider '%s'. Please set it in Settings.",
			req.Role, assignment.Provider)
	}

	ctx, span := g.tracer.TraceLLMRequest(ctx, string(req.Role), assignment.Provider, assignment.Model)
	defer span.End()

	start := time.Now()
	reply := g.stream(ctx, userCtx, req, assignment, apiKey)

	status := "success"
	if IsErrorReply(reply) {
		status = "error"
		g.metrics.RecordError("gateway", "llm_request_failed")
	}
	g.metrics.RecordLLMRequest(string(req.Role), assignment.Provider, assignment.Model, status, time.Since(start).Seconds())
	return reply
}

func (g *Gateway) stream(ctx context.Context, userCtx *models.UserContext, req Request, assignment models.RoleAssignment, apiKey string) string {
	payload := invokePayload{
		ProviderName: assignment.Provider,
		ModelName:    assignment.Model,
		Messages:     req.Messages,
		Temperature:  assignment.Temperature,
		IsJSON:       req.IsJSON,
		Tools:        req.Tools,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return g.streamFailure(ctx, userCtx, req.Role, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return g.streamFailure(ctx, userCtx, req.Role, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Provider-API-Key", apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.streamFailure(ctx, userCtx, req.Role, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, streamScanBuffer))
		detail := strings.TrimSpace(string(raw))
		g.notifier.BroadcastToUser(userCtx.UserID,
			models.SystemLog(fmt.Sprintf("Error from AI microservice: %s", detail), true))
		return fmt.Sprintf("Error: LLM service failed with status %d. Details: %s", resp.StatusCode, detail)
	}

	var finalReply string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), streamScanBuffer)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record streamRecord
		if err := json.Unmarshal(line, &record); err != nil {
			if req.IsJSON {
				g.logger.Warn(ctx, "unparsable stream line", "line", string(line))
			}
			continue
		}

		switch {
		case record.Final != nil:
			finalReply = record.Final.Reply
		case record.Type == "chunk" && req.StreamTag != "":
			g.notifier.BroadcastToUser(userCtx.UserID, models.Event{
				Type:     req.StreamTag,
				FilePath: req.FilePath,
				Chunk:    record.Content,
			})
		case record.Type != "":
			g.notifier.BroadcastToUser(userCtx.UserID, models.Event{
				Type:    models.EventType(record.Type),
				Content: record.Content,
				IsError: record.IsError,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return g.streamFailure(ctx, userCtx, req.Role, err)
	}
	return finalReply
}

// streamFailure reports a transport-level failure to the user and turns it
// into the gateway's error value.
func (g *Gateway) streamFailure(ctx context.Context, userCtx *models.UserContext, role models.AgentRole, err error) string {
	msg := fmt.Sprintf("Error: An unexpected error occurred during streaming: %v", err)
	g.logger.Error(ctx, "llm streaming call failed", "role", string(role), "error", err)
	g.notifier.BroadcastToUser(userCtx.UserID, models.SystemLog(msg, true))
	return msg
}
