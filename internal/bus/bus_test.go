package bus

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	fail   bool
}

func (r *recordingSink) Deliver(event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("sink unavailable")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) snapshot() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func newTestBus(t *testing.T) (*Bus, *observability.Metrics) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	return New(logger, metrics), metrics
}

func TestBroadcastReachesAllClientsOfUser(t *testing.T) {
	b, _ := newTestBus(t)
	first := &recordingSink{}
	second := &recordingSink{}
	other := &recordingSink{}
	b.Connect("alice", "c1", first)
	b.Connect("alice", "c2", second)
	b.Connect("bob", "c3", other)

	b.BroadcastToUser("alice", models.AgentStatus(models.StatusThinking))

	if len(first.snapshot()) != 1 || len(second.snapshot()) != 1 {
		t.Errorf("both alice clients should receive the event")
	}
	if len(other.snapshot()) != 0 {
		t.Errorf("bob must not receive alice's events")
	}
}

func TestBroadcastToUnknownUserIsNoop(t *testing.T) {
	b, _ := newTestBus(t)
	b.BroadcastToUser("ghost", models.SystemLog("hello", false))
}

func TestBroadcastPreservesOrder(t *testing.T) {
	b, _ := newTestBus(t)
	sink := &recordingSink{}
	b.Connect("alice", "c1", sink)

	for i := 0; i < 20; i++ {
		b.BroadcastToUser("alice", models.ActiveTaskUpdated(uint32(i+1)))
	}

	events := sink.snapshot()
	if len(events) != 20 {
		t.Fatalf("got %d events, want 20", len(events))
	}
	for i, ev := range events {
		if ev.TaskID != uint32(i+1) {
			t.Fatalf("event %d has task id %d", i, ev.TaskID)
		}
	}
}

func TestFailingSinkDoesNotBlockSiblings(t *testing.T) {
	b, metrics := newTestBus(t)
	broken := &recordingSink{fail: true}
	healthy := &recordingSink{}
	b.Connect("alice", "broken", broken)
	b.Connect("alice", "healthy", healthy)

	b.BroadcastToUser("alice", models.SystemLog("still here", false))

	if len(healthy.snapshot()) != 1 {
		t.Error("healthy client should receive the event")
	}
	if got := testutil.ToFloat64(metrics.EventsDropped); got != 1 {
		t.Errorf("dropped counter = %v, want 1", got)
	}
}

func TestSendToClientTargetsOneSink(t *testing.T) {
	b, _ := newTestBus(t)
	first := &recordingSink{}
	second := &recordingSink{}
	b.Connect("alice", "c1", first)
	b.Connect("alice", "c2", second)

	b.SendToClient("alice", "c2", models.AuraResponse("just for you"))

	if len(first.snapshot()) != 0 {
		t.Error("c1 should not receive a targeted event")
	}
	if got := second.snapshot(); len(got) != 1 || got[0].Content != "just for you" {
		t.Errorf("c2 events = %+v", got)
	}
}

func TestDisconnectRemovesSink(t *testing.T) {
	b, _ := newTestBus(t)
	sink := &recordingSink{}
	b.Connect("alice", "c1", sink)
	if got := b.ConnectedClients("alice"); got != 1 {
		t.Fatalf("connected = %d, want 1", got)
	}

	b.Disconnect("alice", "c1")
	if got := b.ConnectedClients("alice"); got != 0 {
		t.Fatalf("connected after disconnect = %d", got)
	}
	b.BroadcastToUser("alice", models.SystemLog("gone", false))
	if len(sink.snapshot()) != 0 {
		t.Error("disconnected sink should not receive events")
	}
}

func TestUserInputRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)

	ch := b.AwaitUserInput("widget-1")
	if !b.ResolveUserInput("widget-1", "use postgres") {
		t.Fatal("resolve should find the pending request")
	}
	select {
	case answer := <-ch:
		if answer != "use postgres" {
			t.Errorf("answer = %q", answer)
		}
	case <-time.After(time.Second):
		t.Fatal("answer never arrived")
	}

	// A second resolve, or one for an unknown widget, finds nothing.
	if b.ResolveUserInput("widget-1", "again") {
		t.Error("resolved widget should be gone")
	}
	if b.ResolveUserInput("never-registered", "x") {
		t.Error("unknown widget should not resolve")
	}
}

func TestCancelUserInput(t *testing.T) {
	b, _ := newTestBus(t)
	b.AwaitUserInput("widget-2")
	b.CancelUserInput("widget-2")
	if b.ResolveUserInput("widget-2", "too late") {
		t.Error("cancelled request should not resolve")
	}
}

func TestMissionControlLifecycle(t *testing.T) {
	c := NewMissionControl()

	if c.IsRunning("alice") {
		t.Fatal("fresh user should not be running")
	}
	if c.RequestStop("alice") {
		t.Fatal("stop without a mission should report false")
	}

	if !c.SetRunning("alice") {
		t.Fatal("first SetRunning should claim the slot")
	}
	if c.SetRunning("alice") {
		t.Fatal("second SetRunning must be rejected while running")
	}
	if !c.IsRunning("alice") {
		t.Fatal("mission should be running")
	}

	if !c.RequestStop("alice") {
		t.Fatal("stop for a running mission should succeed")
	}
	if !c.StopRequested("alice") {
		t.Fatal("stop flag should be set")
	}

	c.SetFinished("alice")
	if c.IsRunning("alice") || c.StopRequested("alice") {
		t.Error("SetFinished should clear running and stop state")
	}

	// The slot is reusable and the old stop flag does not leak in.
	if !c.SetRunning("alice") {
		t.Fatal("slot should be claimable after finish")
	}
	if c.StopRequested("alice") {
		t.Error("new mission must start without a stop request")
	}
}

func TestMissionControlIsolatedPerUser(t *testing.T) {
	c := NewMissionControl()
	if !c.SetRunning("alice") {
		t.Fatal("alice should claim her slot")
	}
	if !c.SetRunning("bob") {
		t.Fatal("bob's slot is independent of alice's")
	}
	c.RequestStop("alice")
	if c.StopRequested("bob") {
		t.Error("alice's stop must not affect bob")
	}
}
