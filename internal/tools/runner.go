package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

// Status classifies a finished tool call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// failureDefault is reported when a tool signals failure through a result
// mapping that carries no summary or full_output.
const failureDefault = "Tool indicated failure without a detailed message."

// Outcome is the classified result of one tool invocation. Message holds
// the failure reason on FAILURE and the stringified result on SUCCESS; Raw
// is the untouched action result for callers that inspect it.
type Outcome struct {
	Status  Status
	Message string
	Raw     any
}

// Success reports whether the invocation was classified as successful.
func (o Outcome) Success() bool { return o.Status == StatusSuccess }

// Runner executes tool invocations under the catalog's contract: validate
// arguments, resolve and sandbox path arguments, inject services, announce
// the call, invoke, classify, report. Run never returns a Go error; every
// failure becomes a FAILURE outcome the conductor's retry loop can consume.
type Runner struct {
	catalog *Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRunner creates a runner over the given catalog.
func NewRunner(catalog *Catalog, logger *observability.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		catalog: catalog,
		logger:  logger.WithFields("component", "tools"),
		metrics: metrics,
	}
}

// Run executes a single tool invocation.
//
// Lookup, validation, path resolution and service checks happen before the
// tool_call_initiated event: a call that never could run produces a FAILURE
// outcome without announcing a widget. Once announced, tool_call_completed
// always follows for the same widget id, and a mutating success is followed
// by exactly one file_tree_updated event.
func (r *Runner) Run(ctx context.Context, inv models.ToolInvocation, tc *ToolContext) Outcome {
	desc, ok := r.catalog.Get(inv.ToolName)
	if !ok {
		r.logger.Warn(ctx, "unknown tool requested", "tool", inv.ToolName)
		r.metrics.RecordError("tools", "unknown_tool")
		return failure(fmt.Sprintf("Error: Tool '%s' not found in catalog.", inv.ToolName))
	}

	args := cloneArgs(inv.Arguments)
	if err := desc.validate(args); err != nil {
		r.logger.Warn(ctx, "invalid tool arguments", "tool", desc.Name, "error", err)
		r.metrics.RecordError("tools", "invalid_arguments")
		return failure(fmt.Sprintf("Error: Invalid arguments for tool '%s': %v", desc.Name, err))
	}

	if out, ok := r.resolvePathArgs(ctx, desc, args, tc); !ok {
		return out
	}

	for _, service := range desc.RequiredServices {
		if !tc.has(service) {
			r.logger.Warn(ctx, "tool service unavailable", "tool", desc.Name, "service", service)
			r.metrics.RecordError("tools", "missing_service")
			return failure(fmt.Sprintf("Error: Tool '%s' requires service '%s', which is not available.", desc.Name, service))
		}
	}

	widgetID := uuid.NewString()
	display := displayArgs(desc, args, tc.ProjectRoot)
	r.broadcast(tc, models.ToolCallInitiated(widgetID, desc.Name, display))
	r.logger.Info(ctx, "executing tool", "tool", desc.Name, "widget_id", widgetID)

	start := time.Now()
	raw, err := desc.Action(ctx, args, tc)
	if err != nil {
		r.logger.Error(ctx, "tool action failed", "tool", desc.Name, "error", err)
		raw = fmt.Sprintf("Error executing tool '%s': %v", desc.Name, err)
	}

	status, message := Classify(raw)
	r.metrics.RecordToolExecution(desc.Name, strings.ToLower(string(status)), time.Since(start).Seconds())

	r.broadcast(tc, models.ToolCallCompleted(widgetID, string(status), message))
	if status == StatusSuccess && desc.Mutating {
		r.publishFileTree(ctx, tc)
	}

	return Outcome{Status: status, Message: message, Raw: raw}
}

// resolvePathArgs rewrites every path argument to an absolute path inside
// the project root. A value that escapes the root fails the whole call.
func (r *Runner) resolvePathArgs(ctx context.Context, desc *Descriptor, args map[string]any, tc *ToolContext) (Outcome, bool) {
	if tc.ProjectRoot == "" {
		return Outcome{}, true
	}
	for _, key := range desc.PathParams {
		value, ok := args[key].(string)
		if !ok || value == "" {
			continue
		}
		resolved, err := workspace.ResolvePath(tc.ProjectRoot, value)
		if err != nil {
			r.logger.Warn(ctx, "path argument escapes workspace",
				"tool", desc.Name, "argument", key, "value", value)
			r.metrics.RecordError("tools", "path_escape")
			return failure(fmt.Sprintf("Error: Path '%s' for argument '%s' escapes the project workspace.", value, key)), false
		}
		args[key] = resolved
	}
	return Outcome{}, true
}

// broadcast delivers an event to the mission owner when a bus is wired.
func (r *Runner) broadcast(tc *ToolContext, event models.Event) {
	if tc.Bus == nil {
		return
	}
	tc.Bus.BroadcastToUser(tc.UserID, event)
}

// publishFileTree snapshots the workspace and announces the new tree.
func (r *Runner) publishFileTree(ctx context.Context, tc *ToolContext) {
	if tc.Bus == nil || tc.ProjectRoot == "" {
		return
	}
	tree, err := workspace.BuildTree(tc.ProjectRoot)
	if err != nil {
		r.logger.Warn(ctx, "file tree snapshot failed", "error", err)
		return
	}
	tc.Bus.BroadcastToUser(tc.UserID, models.FileTreeUpdated(tree))
}

func failure(message string) Outcome {
	return Outcome{Status: StatusFailure, Message: message, Raw: message}
}

// Classify maps a raw action result to SUCCESS or FAILURE and the message
// to report:
//
//   - nil results are failures ("tool returned empty result");
//   - a string is a failure when its trimmed lowercase form starts with
//     "error" or contains "failed" or "not found", and the string itself
//     is the message;
//   - a mapping is a failure when its status field is "failure" or
//     "error" (any case); the message prefers summary, then full_output;
//   - anything else is a success with its stringified form as message.
func Classify(raw any) (Status, string) {
	switch result := raw.(type) {
	case nil:
		return StatusFailure, "tool returned empty result"
	case string:
		lowered := strings.ToLower(strings.TrimSpace(result))
		if strings.HasPrefix(lowered, "error") ||
			strings.Contains(lowered, "failed") ||
			strings.Contains(lowered, "not found") {
			return StatusFailure, result
		}
		return StatusSuccess, result
	case map[string]any:
		status, _ := result["status"].(string)
		switch strings.ToLower(status) {
		case "failure", "error":
			return StatusFailure, mappingFailureMessage(result)
		}
		return StatusSuccess, Stringify(result)
	default:
		return StatusSuccess, Stringify(raw)
	}
}

func mappingFailureMessage(result map[string]any) string {
	if summary, _ := result["summary"].(string); summary != "" {
		return summary
	}
	if full, _ := result["full_output"].(string); full != "" {
		return full
	}
	return failureDefault
}

// Stringify renders a result for the tool_call_completed event: strings
// pass through, everything else is JSON.
func Stringify(raw any) string {
	switch result := raw.(type) {
	case nil:
		return ""
	case string:
		return result
	default:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Sprintf("%v", raw)
		}
		return string(encoded)
	}
}

// displayArgs renders invocation arguments for the tool_call_initiated
// event: path arguments shown relative to the project root. Services are
// injected through the ToolContext, never through arguments, so there is
// nothing to elide.
func displayArgs(desc *Descriptor, args map[string]any, projectRoot string) map[string]any {
	display := cloneArgs(args)
	if projectRoot == "" {
		return display
	}
	for _, key := range desc.PathParams {
		value, ok := display[key].(string)
		if !ok || !filepath.IsAbs(value) {
			continue
		}
		if rel, err := filepath.Rel(projectRoot, value); err == nil && !strings.HasPrefix(rel, "..") {
			display[key] = filepath.ToSlash(rel)
		}
	}
	return display
}

func cloneArgs(args map[string]any) map[string]any {
	cloned := make(map[string]any, len(args))
	for key, value := range args {
		cloned[key] = value
	}
	return cloned
}
