// Package bus fans mission events out to every connected client of a user
// and routes client replies back to waiting tools.
package bus

import (
	"context"
	"sync"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// Sink receives events for one connected client. Deliver must return quickly;
// a sink that cannot accept the event in time returns an error and the bus
// drops the event for that client only.
type Sink interface {
	Deliver(event models.Event) error
}

// userClients holds the sinks of one user. order serializes deliveries so
// every client of the user observes events in broadcast order.
type userClients struct {
	order   sync.Mutex
	clients map[string]Sink
}

// Bus is the per-user notification fan-out. Registration and broadcast are
// safe for concurrent use; a slow or broken client never blocks the others.
type Bus struct {
	mu    sync.RWMutex
	users map[string]*userClients

	pendingMu sync.Mutex
	pending   map[string]chan string

	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an empty bus.
func New(logger *observability.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		users:   make(map[string]*userClients),
		pending: make(map[string]chan string),
		logger:  logger.WithFields("component", "bus"),
		metrics: metrics,
	}
}

// Connect registers a client sink for a user. A second Connect with the same
// clientID replaces the previous sink.
func (b *Bus) Connect(userID, clientID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.users[userID]
	if !ok {
		entry = &userClients{clients: make(map[string]Sink)}
		b.users[userID] = entry
	}
	entry.clients[clientID] = sink
	b.logger.Info(context.Background(), "client connected",
		"user_id", userID, "client_id", clientID, "clients", len(entry.clients))
}

// Disconnect removes a client sink. Removing the last client drops the
// user's registry entry.
func (b *Bus) Disconnect(userID, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.users[userID]
	if !ok {
		return
	}
	delete(entry.clients, clientID)
	if len(entry.clients) == 0 {
		delete(b.users, userID)
	}
	b.logger.Info(context.Background(), "client disconnected",
		"user_id", userID, "client_id", clientID)
}

// ConnectedClients reports how many sinks a user currently has.
func (b *Bus) ConnectedClients(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.users[userID]
	if !ok {
		return 0
	}
	return len(entry.clients)
}

// BroadcastToUser delivers an event to every client of a user. The sink list
// is snapshotted under the registry lock and delivery happens outside it, so
// connects and disconnects are never blocked by a slow write. Deliveries for
// one user are serialized to preserve event order.
func (b *Bus) BroadcastToUser(userID string, event models.Event) {
	b.mu.RLock()
	entry, ok := b.users[userID]
	var snapshot []namedSink
	if ok {
		snapshot = make([]namedSink, 0, len(entry.clients))
		for id, sink := range entry.clients {
			snapshot = append(snapshot, namedSink{id: id, sink: sink})
		}
	}
	b.mu.RUnlock()
	if entry == nil || len(snapshot) == 0 {
		return
	}

	entry.order.Lock()
	defer entry.order.Unlock()
	for _, client := range snapshot {
		b.deliver(userID, client, event)
	}
}

// SendToClient delivers an event to a single client of a user.
func (b *Bus) SendToClient(userID, clientID string, event models.Event) {
	b.mu.RLock()
	entry, ok := b.users[userID]
	var sink Sink
	if ok {
		sink = entry.clients[clientID]
	}
	b.mu.RUnlock()
	if sink == nil {
		return
	}

	entry.order.Lock()
	defer entry.order.Unlock()
	b.deliver(userID, namedSink{id: clientID, sink: sink}, event)
}

type namedSink struct {
	id   string
	sink Sink
}

func (b *Bus) deliver(userID string, client namedSink, event models.Event) {
	if err := client.sink.Deliver(event); err != nil {
		b.logger.Warn(context.Background(), "event dropped for slow client",
			"user_id", userID, "client_id", client.id,
			"event_type", string(event.Type), "error", err)
		if b.metrics != nil {
			b.metrics.EventDropped()
		}
	}
}

// AwaitUserInput registers a pending clarification identified by widgetID
// and returns the channel the user's answer will arrive on. The caller must
// release the registration with CancelUserInput when done.
func (b *Bus) AwaitUserInput(widgetID string) <-chan string {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	ch := make(chan string, 1)
	b.pending[widgetID] = ch
	return ch
}

// ResolveUserInput delivers the user's answer to the tool waiting on
// widgetID. Returns false when nothing is waiting (late or unknown reply).
func (b *Bus) ResolveUserInput(widgetID, answer string) bool {
	b.pendingMu.Lock()
	ch, ok := b.pending[widgetID]
	if ok {
		delete(b.pending, widgetID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- answer
	return true
}

// CancelUserInput drops a pending clarification, typically on timeout or
// mission stop.
func (b *Bus) CancelUserInput(widgetID string) {
	b.pendingMu.Lock()
	delete(b.pending, widgetID)
	b.pendingMu.Unlock()
}
