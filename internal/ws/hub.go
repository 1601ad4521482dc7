package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/telnet-web-access/backend/internal/telnet"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeConnect    MessageType = "connect"
	MessageTypeDisconnect MessageType = "disconnect"
	MessageTypeKeyPress   MessageType = "keypress"
	MessageTypeKeyDown    MessageType = "keydown"
	MessageTypeKeyUp      MessageType = "keyup"
	MessageTypePing       MessageType = "ping"

	// Server -> Client message types
	MessageTypeHistory      MessageType = "history"
	MessageTypeOutput       MessageType = "output"
	MessageTypeDisconnected MessageType = "disconnected"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
)

// Message represents a WebSocket message. Data is base64 encoded on the wire.
type Message struct {
	Type  MessageType `json:"type"`
	Host  string      `json:"host,omitempty"`
	Port  int         `json:"port,omitempty"`
	Code  int         `json:"code,omitempty"`
	Data  []byte      `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Client represents a WebSocket client connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	// filter strips telnet commands; nil passes bytes through.
	filterMu sync.Mutex
	filter   *telnet.Filter
}

// NewClient creates a new WebSocket client. When filterIAC is set, telnet
// command sequences are removed from the output it receives.
func NewClient(id string, conn *websocket.Conn, filterIAC bool) *Client {
	c := &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if filterIAC {
		c.filter = telnet.NewFilter()
	}
	return c
}

// ID returns the client's identity.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// SendMessage marshals and queues msg.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// Close closes the client's send channel; the write pump then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// process applies the client's filter. reset starts a new stream.
func (c *Client) process(data []byte, reset bool) []byte {
	if c.filter == nil {
		return data
	}

	c.filterMu.Lock()
	defer c.filterMu.Unlock()

	if reset {
		c.filter.Reset()
	}
	return c.filter.Process(data)
}

// Hub is the directory of connected clients. It implements session.Sink.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.id] = client
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.clients[client.id] == client {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	client.Close()
}

// Get returns the client with the given id, or nil.
func (h *Hub) Get(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Replay sends recent history to one client.
func (h *Hub) Replay(clientID string, data []byte) {
	if client := h.Get(clientID); client != nil {
		h.send(client, &Message{Type: MessageTypeHistory, Data: client.process(data, true)})
	}
}

// Deliver sends live output to one client.
func (h *Hub) Deliver(clientID string, data []byte) {
	if client := h.Get(clientID); client != nil {
		out := client.process(data, false)
		if len(out) == 0 {
			return
		}
		h.send(client, &Message{Type: MessageTypeOutput, Data: out})
	}
}

// Disconnected tells a client its session has ended.
func (h *Hub) Disconnected(clientID string) {
	if client := h.Get(clientID); client != nil {
		h.send(client, &Message{Type: MessageTypeDisconnected})
	}
}

func (h *Hub) send(client *Client, msg *Message) {
	if err := client.SendMessage(msg); err != nil {
		h.logger.Warn("failed to marshal message", "client", client.id, "type", msg.Type, "error", err)
	}
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
