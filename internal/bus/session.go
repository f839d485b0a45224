package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second

	// deliverTimeout bounds how long a broadcast waits on one client before
	// the event is dropped for it.
	deliverTimeout = time.Second
)

// inboundFrame is what clients may send over the socket. Only
// user_input_response frames carry meaning; everything else is ignored.
type inboundFrame struct {
	Type     string `json:"type"`
	WidgetID string `json:"widget_id"`
	Response string `json:"response"`
}

// Session pins one WebSocket connection to the bus. Events delivered by the
// bus are marshalled once and pushed through a bounded send channel that the
// write pump drains; the read pump routes user_input_response frames back to
// waiting tools and keeps the connection alive via pong handling.
type Session struct {
	bus    *Bus
	conn   *websocket.Conn
	userID string
	id     string

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSession wraps an upgraded connection for the given user.
func NewSession(b *Bus, conn *websocket.Conn, userID string, logger *observability.Logger, metrics *observability.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		bus:     b,
		conn:    conn,
		userID:  userID,
		id:      uuid.NewString(),
		send:    make(chan []byte, wsSendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.WithFields("component", "ws"),
		metrics: metrics,
	}
}

// ID returns the session's client identifier on the bus.
func (s *Session) ID() string { return s.id }

// Run registers the session and pumps the connection until the client hangs
// up or the parent context ends. It blocks for the lifetime of the socket.
func (s *Session) Run(parent context.Context) {
	s.bus.Connect(s.userID, s.id, s)
	if s.metrics != nil {
		s.metrics.ClientConnected()
	}
	defer func() {
		s.bus.Disconnect(s.userID, s.id)
		if s.metrics != nil {
			s.metrics.ClientDisconnected()
		}
		s.Close()
	}()

	stop := context.AfterFunc(parent, s.Close)
	defer stop()

	go s.writeLoop()
	s.readLoop()
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// Deliver implements Sink. It blocks at most deliverTimeout; a full send
// buffer means the client has stalled and the event is dropped for it.
func (s *Session) Deliver(event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timer := time.NewTimer(deliverTimeout)
	defer timer.Stop()
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-timer.C:
		return fmt.Errorf("send buffer full after %s", deliverTimeout)
	}
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn(s.ctx, "unparsable client frame", "client_id", s.id, "error", err)
			continue
		}
		switch frame.Type {
		case "user_input_response":
			if !s.bus.ResolveUserInput(frame.WidgetID, frame.Response) {
				s.logger.Warn(s.ctx, "reply for unknown input request",
					"client_id", s.id, "widget_id", frame.WidgetID)
			}
		default:
			s.logger.Debug(s.ctx, "ignoring client frame", "type", frame.Type)
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}
