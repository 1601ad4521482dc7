package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/telnet-web-access/backend/internal/ws"
)

// WebSocketHandler attaches browser terminals.
type WebSocketHandler struct {
	service *ws.Service
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *ws.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// Terminal handles WS /api/terminal. The client picks its endpoint with a
// connect message once attached.
func (h *WebSocketHandler) Terminal(c *gin.Context) {
	h.service.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/terminal", h.Terminal)
}
