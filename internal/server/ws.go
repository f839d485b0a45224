package server

import (
	"net/http"

	"github.com/aura-dev/aura/internal/bus"
)

// handleWebSocket upgrades the connection and pumps it on the bus until the
// client hangs up. Auth happened in the middleware; WebSocket clients pass
// the token as a query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn(r.Context(), "websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	session := bus.NewSession(s.bus, conn, user.ID, s.logger, s.metrics)
	s.logger.Info(r.Context(), "client connected", "user_id", user.ID, "client_id", session.ID())
	session.Run(r.Context())
	s.logger.Info(r.Context(), "client disconnected", "user_id", user.ID, "client_id", session.ID())
}
