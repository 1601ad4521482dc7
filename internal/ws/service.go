package ws

import (
	"net/http"
)

// Service owns the hub and handler serving browser terminals.
type Service struct {
	hub     *Hub
	handler *Handler
}

// NewService creates a service. The hub must be the sink the router
// delivers to.
func NewService(hub *Hub, router Router, opts Options) *Service {
	return &Service{
		hub:     hub,
		handler: NewHandler(hub, router, opts),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the client directory.
func (s *Service) Hub() *Hub {
	return s.hub
}

// ServeHTTP upgrades and serves a terminal connection.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.HandleConnection(w, r); err != nil {
		s.handler.logger.Debug("websocket upgrade failed", "error", err)
	}
}

// ClientCount returns the number of connected browser clients.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// Close closes all WebSocket connections.
func (s *Service) Close() {
	s.hub.Close()
}
