package conductor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/missionlog"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/internal/tools/actions"
	"github.com/aura-dev/aura/pkg/models"
)

// fakeGateway pops scripted replies per role and records every request.
type fakeGateway struct {
	mu       sync.Mutex
	replies  map[models.AgentRole][]string
	requests []gateway.Request
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: make(map[models.AgentRole][]string)}
}

func (f *fakeGateway) queue(role models.AgentRole, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[role] = append(f.replies[role], replies...)
}

func (f *fakeGateway) Invoke(_ context.Context, _ *models.UserContext, req gateway.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	q := f.replies[req.Role]
	if len(q) == 0 {
		return ""
	}
	f.replies[req.Role] = q[1:]
	return q[0]
}

func (f *fakeGateway) requestsForRole(role models.AgentRole) []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateway.Request
	for _, r := range f.requests {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// fakeRunner pops scripted outcomes per tool; unknown tools succeed.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string][]tools.Outcome
	calls    []models.ToolInvocation
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outcomes: make(map[string][]tools.Outcome)}
}

func (f *fakeRunner) queue(tool string, outcomes ...tools.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[tool] = append(f.outcomes[tool], outcomes...)
}

func (f *fakeRunner) Run(_ context.Context, inv models.ToolInvocation, _ *tools.ToolContext) tools.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inv)
	q := f.outcomes[inv.ToolName]
	if len(q) == 0 {
		return tools.Outcome{Status: tools.StatusSuccess, Message: "ok", Raw: "ok"}
	}
	f.outcomes[inv.ToolName] = q[1:]
	return q[0]
}

type captureNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *captureNotifier) BroadcastToUser(_ string, event models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureNotifier) snapshot() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *captureNotifier) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *captureNotifier) types() []models.EventType {
	var out []models.EventType
	for _, e := range c.snapshot() {
		out = append(out, e.Type)
	}
	return out
}

func (c *captureNotifier) contains(et models.EventType, substr string) bool {
	for _, e := range c.snapshot() {
		if e.Type == et && strings.Contains(e.Content, substr) {
			return true
		}
	}
	return false
}

// stubStop trips after a fixed number of polls; 0 means immediately.
type stubStop struct {
	mu        sync.Mutex
	stopAfter int
	polls     int
}

func (s *stubStop) StopRequested(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.polls > s.stopAfter
}

// neverStop keeps the mission running.
type neverStop struct{}

func (neverStop) StopRequested(string) bool { return false }

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

type fixture struct {
	conductor *Conductor
	gw        *fakeGateway
	runner    *fakeRunner
	notifier  *captureNotifier
	log       *missionlog.Log
}

func newFixture(t *testing.T, control StopPoller) *fixture {
	t.Helper()
	logger := testLogger()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	gw := newFakeGateway()
	runner := newFakeRunner()
	notifier := &captureNotifier{}
	root := t.TempDir()
	log := missionlog.Open(root, "user-1", notifier, logger)

	catalog := tools.NewCatalog()
	if err := actions.Register(catalog); err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	userCtx := &models.UserContext{UserID: "user-1", ProjectRoot: root}
	cfg := Config{
		UserCtx:  userCtx,
		Project:  "demo",
		Log:      log,
		Catalog:  catalog,
		Runner:   runner,
		Gateway:  gw,
		Planner:  planner.New(gw, notifier, logger),
		Notifier: notifier,
		Control:  control,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	}
	return &fixture{conductor: New(cfg), gw: gw, runner: runner, notifier: notifier, log: log}
}

func toolCallReply(tool string, args string) string {
	return fmt.Sprintf(`{"tool_name": %q, "arguments": %s}`, tool, args)
}

func TestExecuteMissionRunsAllTasksToDone(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Create the main application directory 'src'."}, "a demo app"); err != nil {
		t.Fatal(err)
	}
	// Task 1 is the pre-canned index task; task 2 needs one coder call.
	f.gw.queue(models.RoleCoder, toolCallReply("create_directory", `{"path": "src"}`))
	f.gw.queue(models.RoleChat, "Mission accomplished! Directory created.")
	f.notifier.reset()

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateDone {
		t.Fatalf("state = %s, want %s", got, StateDone)
	}
	if len(f.runner.calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %+v", f.runner.calls)
	}
	if f.runner.calls[0].ToolName != "index_project_context" {
		t.Errorf("first call should be the pre-canned index, got %s", f.runner.calls[0].ToolName)
	}
	if f.runner.calls[1].ToolName != "create_directory" {
		t.Errorf("second call = %s", f.runner.calls[1].ToolName)
	}

	for _, task := range f.log.Tasks(nil) {
		if !task.Done {
			t.Errorf("task %d not marked done", task.ID)
		}
	}

	if !f.notifier.contains(models.EventSystemLog, "Mission dispatched") {
		t.Error("missing dispatch log")
	}
	if !f.notifier.contains(models.EventSystemLog, "Task completed: Create the main application directory 'src'.") {
		t.Error("missing task-completed log")
	}
	if !f.notifier.contains(models.EventAuraResponse, "Mission accomplished!") {
		t.Error("missing mission summary")
	}

	types := f.notifier.types()
	if types[0] != models.EventAgentStatus || types[len(types)-1] != models.EventAgentStatus {
		t.Errorf("mission should be bracketed by agent_status events, got %v", types)
	}
	events := f.notifier.snapshot()
	if last := events[len(events)-1]; last.Status != models.StatusIdle {
		t.Errorf("final status = %q, want idle", last.Status)
	}
	var sawSuccess bool
	for _, et := range types {
		if et == models.EventMissionSuccess {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Errorf("no mission_success event in %v", types)
	}
}

func TestExecuteMissionEmptyPlanFails(t *testing.T) {
	f := newFixture(t, neverStop{})

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	if !f.notifier.contains(models.EventSystemLog, "A critical error stopped the mission") {
		t.Error("missing critical error log")
	}
	var sawFailure bool
	for _, e := range f.notifier.snapshot() {
		if e.Type == models.EventMissionFailure {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("missing mission_failure event")
	}
}

func TestExecuteMissionStopsOnRequest(t *testing.T) {
	f := newFixture(t, &stubStop{stopAfter: 0})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Never runs."}, "goal"); err != nil {
		t.Fatal(err)
	}

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
	if len(f.runner.calls) != 0 {
		t.Errorf("no tools should run after stop, got %+v", f.runner.calls)
	}
	if !f.notifier.contains(models.EventSystemLog, haltedMessage) {
		t.Error("missing halt log")
	}
	events := f.notifier.snapshot()
	last := events[len(events)-1]
	if last.Type != models.EventAgentStatus || last.Status != models.StatusIdle {
		t.Errorf("last event should be idle status, got %+v", last)
	}
	for _, e := range events {
		if e.Type == models.EventMissionSuccess || e.Type == models.EventMissionFailure {
			t.Errorf("no terminal success/failure after stop, got %+v", e)
		}
	}
}

func TestExecuteMissionCancelledContextStops(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Never runs."}, "goal"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.conductor.ExecuteMission(ctx)

	if got := f.conductor.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
}

func TestTaskFailureRetriesThenReplans(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Fetch the GitHub API.", "Render results."}, "dashboard"); err != nil {
		t.Fatal(err)
	}
	// Index task succeeds via default outcome. The fetch task fails twice.
	f.gw.queue(models.RoleCoder,
		toolCallReply("run_shell_command", `{"command": "curl api.github.com"}`),
		toolCallReply("run_shell_command", `{"command": "curl api.github.com"}`),
	)
	f.runner.queue("run_shell_command",
		tools.Outcome{Status: tools.StatusFailure, Message: "401 Unauthorized"},
		tools.Outcome{Status: tools.StatusFailure, Message: "401 Unauthorized"},
	)
	// Replanner rewrites the tail with a single task that then succeeds.
	f.gw.queue(models.RolePlanner, `{"plan": ["Ask the user for a GitHub API token."]}`)
	f.gw.queue(models.RoleCoder, toolCallReply("request_user_input", `{"question": "Token?"}`))
	f.gw.queue(models.RoleChat, "Mission accomplished! Recovered and finished.")

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateDone {
		t.Fatalf("state = %s, want %s", got, StateDone)
	}

	// Two failing attempts on the same task.
	coderCalls := f.gw.requestsForRole(models.RoleCoder)
	if len(coderCalls) != 3 {
		t.Fatalf("expected 3 coder calls (2 attempts + 1 post-replan), got %d", len(coderCalls))
	}
	// The retry prompt must carry the previous error and the injunction.
	retryPrompt := coderCalls[1].Messages[0].Content
	if !strings.Contains(retryPrompt, "401 Unauthorized") || !strings.Contains(retryPrompt, "different approach") {
		t.Error("retry prompt should embed last error and different-approach injunction")
	}

	if !f.notifier.contains(models.EventSystemLog, "I'm stuck. Rethinking my approach.") {
		t.Error("missing stuck log before replan")
	}
	if !f.notifier.contains(models.EventSystemLog, "Task failed, retrying. Error: 401 Unauthorized") {
		t.Error("missing retry log")
	}

	// The replanner prompt received the recorded last_error.
	plannerCalls := f.gw.requestsForRole(models.RolePlanner)
	if len(plannerCalls) != 1 {
		t.Fatalf("expected 1 replanner call, got %d", len(plannerCalls))
	}
	if !strings.Contains(plannerCalls[0].Messages[0].Content, "401 Unauthorized") {
		t.Error("replanner prompt should carry the final error")
	}

	// The failed task and its successor were replaced.
	for _, task := range f.log.Tasks(nil) {
		if task.Description == "Fetch the GitHub API." || task.Description == "Render results." {
			t.Errorf("task %q should have been replaced", task.Description)
		}
	}
}

func TestReplanFailureFailsMission(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Fetch the GitHub API."}, "dashboard"); err != nil {
		t.Fatal(err)
	}
	f.gw.queue(models.RoleCoder,
		toolCallReply("run_shell_command", `{"command": "curl"}`),
		toolCallReply("run_shell_command", `{"command": "curl"}`),
	)
	f.runner.queue("run_shell_command",
		tools.Outcome{Status: tools.StatusFailure, Message: "401"},
		tools.Outcome{Status: tools.StatusFailure, Message: "401"},
	)
	f.gw.queue(models.RolePlanner, `{"plan": []}`)

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	var sawFailure bool
	for _, e := range f.notifier.snapshot() {
		if e.Type == models.EventMissionFailure {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("missing mission_failure after failed replan")
	}
	// The failed task must not be half-removed.
	tasks := f.log.Tasks(nil)
	if len(tasks) != 2 || tasks[1].Description != "Fetch the GitHub API." {
		t.Errorf("log mutated by failed replan: %+v", tasks)
	}
}

func TestLastErrorRecordedBeforeRetry(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Write the app."}, "goal"); err != nil {
		t.Fatal(err)
	}
	f.gw.queue(models.RoleCoder,
		toolCallReply("write_file", `{"path": "app.py", "content": "print('x')"}`),
		toolCallReply("read_file", `{"path": "app.py"}`),
	)
	f.runner.queue("write_file", tools.Outcome{Status: tools.StatusFailure, Message: "disk full"})
	f.gw.queue(models.RoleChat, "Mission accomplished!")

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateDone {
		t.Fatalf("state = %s, want %s", got, StateDone)
	}
	// After the first failure the persisted task carried the error; the
	// final state has it cleared by the successful second attempt.
	found := false
	for _, e := range f.notifier.snapshot() {
		if e.Type == models.EventMissionLogUpdated {
			for _, task := range e.Tasks {
				if task.LastError == "disk full" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("last_error was never persisted to the log")
	}
}

func TestCoderUnusableReplyCountsAsAttempt(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Do something."}, "goal"); err != nil {
		t.Fatal(err)
	}
	// Both attempts return conversational text instead of a tool call,
	// then the replanner also fails: mission ends Failed.
	f.gw.queue(models.RoleCoder, "I would suggest using write_file here!", "Definitely write_file.")
	f.gw.queue(models.RolePlanner, "")

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	if len(f.runner.calls) != 1 {
		t.Errorf("only the index call should reach the runner, got %+v", f.runner.calls)
	}
	if !f.notifier.contains(models.EventSystemLog, "I'm stuck. Rethinking my approach.") {
		t.Error("missing stuck log")
	}
}
