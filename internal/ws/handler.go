package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/telnet-web-access/backend/internal/keys"
	"github.com/telnet-web-access/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Time allowed for a connect request to set up the session and replay history.
	connectTimeout = 15 * time.Second
)

// Router is the command surface of the session registry.
type Router interface {
	Connect(ctx context.Context, clientID string, ep model.Endpoint) error
	Disconnect(clientID string)
	SendKeyPress(clientID string, code keys.Code)
	SendKeyDown(clientID string, code keys.Code)
	SendKeyUp(clientID string, code keys.Code)
}

// Options configures a Handler.
type Options struct {
	// FilterIAC strips telnet command sequences from output.
	FilterIAC bool
	// AllowedOrigins lists accepted Origin headers. "*" accepts any; an
	// empty list accepts same-origin requests only.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler handles WebSocket connections from browser terminals.
type Handler struct {
	hub      *Hub
	router   Router
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, router Router, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		hub:    hub,
		router: router,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-origin check
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		if u, err := url.Parse(origin); err == nil {
			return strings.EqualFold(u.Host, r.Host)
		}
		return false
	}
}

// HandleConnection upgrades the request and serves the client until the
// connection closes. Closing the connection disconnects the client.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), conn, h.opts.FilterIAC)
	h.hub.Register(client)
	h.logger.Debug("client attached", "client", client.ID(), "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// handleMessage dispatches a client message to the router.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeConnect:
		h.handleConnect(client, msg)
	case MessageTypeDisconnect:
		h.router.Disconnect(client.ID())
	case MessageTypeKeyPress:
		h.router.SendKeyPress(client.ID(), keys.Code(msg.Code))
	case MessageTypeKeyDown:
		h.router.SendKeyDown(client.ID(), keys.Code(msg.Code))
	case MessageTypeKeyUp:
		h.router.SendKeyUp(client.ID(), keys.Code(msg.Code))
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong})
	default:
		client.SendMessage(&Message{Type: MessageTypeError, Error: "unknown message type: " + string(msg.Type)})
	}
}

func (h *Handler) handleConnect(client *Client, msg *Message) {
	ep, err := model.NewEndpoint(msg.Host, msg.Port)
	if err != nil {
		client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := h.router.Connect(ctx, client.ID(), ep); err != nil {
		h.logger.Warn("connect failed", "client", client.ID(), "endpoint", ep.Address(), "error", err)
		client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
	}
}

// readPump pumps messages from the WebSocket connection to the router.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.router.Disconnect(client.ID())
		h.hub.Unregister(client)
		client.Conn().Close()
		h.logger.Debug("client detached", "client", client.ID())
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", "client", client.ID(), "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Debug("failed to unmarshal message", "client", client.ID(), "error", err)
			client.SendMessage(&Message{Type: MessageTypeError, Error: "invalid message"})
			continue
		}

		h.handleMessage(client, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
