package tools

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// recordingSink captures every event delivered to one connected client.
type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Deliver(event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func newTestRunner(t *testing.T) (*Runner, *Catalog, *ToolContext, *recordingSink) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	catalog := NewCatalog()
	runner := NewRunner(catalog, logger, metrics)

	b := bus.New(logger, metrics)
	sink := &recordingSink{}
	b.Connect("user-1", "client-1", sink)

	tc := &ToolContext{
		UserID:      "user-1",
		ProjectRoot: t.TempDir(),
		Bus:         b,
	}
	return runner, catalog, tc, sink
}

func eventsOfType(events []models.Event, eventType models.EventType) []models.Event {
	var matched []models.Event
	for _, event := range events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

const echoSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"message": {"type": "string"}
	},
	"required": ["path"]
}`

func TestRunExecutesToolAndReportsLifecycle(t *testing.T) {
	runner, catalog, tc, sink := newTestRunner(t)

	var gotPath string
	err := catalog.Register(&Descriptor{
		Name:             "echo",
		Description:      "Echoes its arguments.",
		ParametersSchema: echoSchema,
		PathParams:       []string{"path"},
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			gotPath, _ = args["path"].(string)
			return "Successfully echoed", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out := runner.Run(context.Background(), models.ToolInvocation{
		ToolName:  "echo",
		Arguments: map[string]any{"path": "src/main.py", "message": "hi"},
	}, tc)

	if !out.Success() {
		t.Fatalf("outcome = %+v, want success", out)
	}
	want := filepath.Join(tc.ProjectRoot, "src", "main.py")
	if gotPath != want {
		t.Errorf("action path = %q, want resolved %q", gotPath, want)
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events %v, want initiated+completed", len(events), events)
	}
	initiated, completed := events[0], events[1]
	if initiated.Type != models.EventToolCallInitiated || completed.Type != models.EventToolCallCompleted {
		t.Fatalf("event order = %s, %s", initiated.Type, completed.Type)
	}
	if initiated.WidgetID == "" || initiated.WidgetID != completed.WidgetID {
		t.Errorf("widget ids = %q / %q, want matching non-empty", initiated.WidgetID, completed.WidgetID)
	}
	if initiated.ToolName != "echo" {
		t.Errorf("initiated tool = %q", initiated.ToolName)
	}
	if got := initiated.Params["path"]; got != "src/main.py" {
		t.Errorf("display path = %v, want workspace-relative", got)
	}
	if completed.CallStatus != "SUCCESS" {
		t.Errorf("completed status = %q", completed.CallStatus)
	}
	if completed.Result != "Successfully echoed" {
		t.Errorf("completed result = %q", completed.Result)
	}
}

func TestRunUnknownToolFailsWithoutEvents(t *testing.T) {
	runner, _, tc, sink := newTestRunner(t)

	out := runner.Run(context.Background(), models.ToolInvocation{ToolName: "vanish"}, tc)

	if out.Success() {
		t.Fatal("unknown tool classified as success")
	}
	if want := "Error: Tool 'vanish' not found in catalog."; out.Message != want {
		t.Errorf("message = %q, want %q", out.Message, want)
	}
	if events := sink.snapshot(); len(events) != 0 {
		t.Errorf("unknown tool emitted %d events, want none", len(events))
	}
}

func TestRunRejectsInvalidArguments(t *testing.T) {
	runner, catalog, tc, sink := newTestRunner(t)

	invoked := false
	if err := catalog.Register(&Descriptor{
		Name:             "echo",
		ParametersSchema: echoSchema,
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			invoked = true
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out := runner.Run(context.Background(), models.ToolInvocation{
		ToolName:  "echo",
		Arguments: map[string]any{"message": "missing required path"},
	}, tc)

	if out.Success() {
		t.Fatal("invalid arguments classified as success")
	}
	if !strings.HasPrefix(out.Message, "Error: Invalid arguments for tool 'echo':") {
		t.Errorf("message = %q", out.Message)
	}
	if invoked {
		t.Error("action ran despite failed validation")
	}
	if events := sink.snapshot(); len(events) != 0 {
		t.Errorf("validation failure emitted %d events, want none", len(events))
	}
}

func TestRunRejectsPathEscape(t *testing.T) {
	runner, catalog, tc, sink := newTestRunner(t)

	invoked := false
	if err := catalog.Register(&Descriptor{
		Name:             "echo",
		ParametersSchema: echoSchema,
		PathParams:       []string{"path"},
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			invoked = true
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, escape := range []string{"../outside.txt", "/etc/passwd"} {
		out := runner.Run(context.Background(), models.ToolInvocation{
			ToolName:  "echo",
			Arguments: map[string]any{"path": escape},
		}, tc)
		if out.Success() {
			t.Fatalf("path %q classified as success", escape)
		}
		if !strings.Contains(out.Message, "escapes the project workspace") {
			t.Errorf("path %q message = %q", escape, out.Message)
		}
	}
	if invoked {
		t.Error("action ran despite path escape")
	}
	if events := sink.snapshot(); len(events) != 0 {
		t.Errorf("path escape emitted %d events, want none", len(events))
	}
}

func TestRunRequiresDeclaredServices(t *testing.T) {
	runner, catalog, tc, _ := newTestRunner(t)
	tc.VectorContext = nil

	if err := catalog.Register(&Descriptor{
		Name:             "needs_index",
		RequiredServices: []string{ServiceVectorContext},
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out := runner.Run(context.Background(), models.ToolInvocation{ToolName: "needs_index"}, tc)
	if out.Success() {
		t.Fatal("missing service classified as success")
	}
	if want := "Error: Tool 'needs_index' requires service 'vector_context', which is not available."; out.Message != want {
		t.Errorf("message = %q, want %q", out.Message, want)
	}
}

func TestRunMutatingSuccessPublishesFileTree(t *testing.T) {
	runner, catalog, tc, sink := newTestRunner(t)

	if err := os.WriteFile(filepath.Join(tc.ProjectRoot, "app.py"), []byte("print()\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	register := func(name string, mutating bool, result any) {
		t.Helper()
		if err := catalog.Register(&Descriptor{
			Name:     name,
			Mutating: mutating,
			Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
				return result, nil
			},
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	register("mutate_ok", true, "Successfully changed the tree")
	register("mutate_fail", true, "Error: nothing changed")
	register("read_only", false, "file contents")

	ctx := context.Background()
	runner.Run(ctx, models.ToolInvocation{ToolName: "mutate_ok"}, tc)
	runner.Run(ctx, models.ToolInvocation{ToolName: "mutate_fail"}, tc)
	runner.Run(ctx, models.ToolInvocation{ToolName: "read_only"}, tc)

	trees := eventsOfType(sink.snapshot(), models.EventFileTreeUpdated)
	if len(trees) != 1 {
		t.Fatalf("got %d file_tree_updated events, want exactly 1", len(trees))
	}
	if len(trees[0].Tree) == 0 {
		t.Error("file tree event carries no nodes")
	}
}

func TestRunConvertsActionErrorToFailure(t *testing.T) {
	runner, catalog, tc, sink := newTestRunner(t)

	if err := catalog.Register(&Descriptor{
		Name: "explode",
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			return nil, os.ErrPermission
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out := runner.Run(context.Background(), models.ToolInvocation{ToolName: "explode"}, tc)
	if out.Success() {
		t.Fatal("action error classified as success")
	}
	if want := "Error executing tool 'explode': permission denied"; out.Message != want {
		t.Errorf("message = %q, want %q", out.Message, want)
	}

	completed := eventsOfType(sink.snapshot(), models.EventToolCallCompleted)
	if len(completed) != 1 || completed[0].CallStatus != "FAILURE" {
		t.Fatalf("completed events = %+v, want one FAILURE", completed)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		raw         any
		wantStatus  Status
		wantMessage string
	}{
		{"nil result", nil, StatusFailure, "tool returned empty result"},
		{"error prefix", "Error: boom", StatusFailure, "Error: boom"},
		{"error prefix padded", "  ERROR something", StatusFailure, "  ERROR something"},
		{"contains failed", "Build failed with 2 errors", StatusFailure, "Build failed with 2 errors"},
		{"contains not found", "Class 'App' not found in 'x.py'.", StatusFailure, "Class 'App' not found in 'x.py'."},
		{"plain success string", "Successfully wrote 10 bytes", StatusSuccess, "Successfully wrote 10 bytes"},
		{
			"map failure with summary",
			map[string]any{"status": "failure", "summary": "exit code 1", "full_output": "trace"},
			StatusFailure, "exit code 1",
		},
		{
			"map failure with full_output only",
			map[string]any{"status": "error", "full_output": "trace"},
			StatusFailure, "trace",
		},
		{
			"map failure bare",
			map[string]any{"status": "failure"},
			StatusFailure, failureDefault,
		},
		{
			"map success",
			map[string]any{"status": "success", "summary": "done"},
			StatusSuccess, `{"status":"success","summary":"done"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := Classify(tt.raw)
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if message != tt.wantMessage {
				t.Errorf("message = %q, want %q", message, tt.wantMessage)
			}
		})
	}
}

func TestCatalogSpecsSortedWithParameters(t *testing.T) {
	catalog := NewCatalog()
	noop := func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
		return "ok", nil
	}
	for _, name := range []string{"zeta", "alpha"} {
		if err := catalog.Register(&Descriptor{
			Name:             name,
			Description:      "does " + name,
			ParametersSchema: `{"type":"object"}`,
			Action:           noop,
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	specs := catalog.Specs()
	if len(specs) != 2 {
		t.Fatalf("got %d specs", len(specs))
	}
	if specs[0]["name"] != "alpha" || specs[1]["name"] != "zeta" {
		t.Errorf("specs not sorted: %v, %v", specs[0]["name"], specs[1]["name"])
	}
	params, ok := specs[0]["parameters"].(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("parameters = %v", specs[0]["parameters"])
	}
}

func TestCatalogRegisterRejectsBadSchema(t *testing.T) {
	catalog := NewCatalog()
	err := catalog.Register(&Descriptor{
		Name:             "broken",
		ParametersSchema: `{"type": ["not-a-type"]}`,
		Action: func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
			return nil, nil
		},
	})
	if err == nil {
		t.Fatal("Register accepted an invalid schema")
	}
}
