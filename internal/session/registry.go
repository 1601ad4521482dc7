// Package session owns the live telnet sessions and routes bytes between
// them and browser clients.
//
// A Registry runs in one of two modes. In shared mode sessions are keyed by
// endpoint: every client connecting to the same host and port joins one
// session and receives its output. In per-client mode every client gets
// its own session, disposed when the client disconnects. Per-client is the
// default deployment mode; a process runs a single Registry in one mode.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telnet-web-access/backend/internal/history"
	"github.com/telnet-web-access/backend/internal/keys"
	"github.com/telnet-web-access/backend/internal/model"
	"github.com/telnet-web-access/backend/internal/recording"
	"github.com/telnet-web-access/backend/internal/retry"
	"github.com/telnet-web-access/backend/internal/telnet"
	"github.com/telnet-web-access/backend/internal/transport"
)

// Mode selects how sessions are keyed.
type Mode string

const (
	ModeShared    Mode = "shared"
	ModePerClient Mode = "per-client"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeShared, ModePerClient:
		return Mode(s), nil
	}
	return "", model.InvalidArgument("unknown mode %q, expected %q or %q", s, ModeShared, ModePerClient)
}

// Sink receives what the registry sends to clients. Implementations must
// not block and must not call back into the registry.
type Sink interface {
	// Replay delivers recent history to one newly connected client.
	Replay(clientID string, data []byte)
	// Deliver delivers live output.
	Deliver(clientID string, data []byte)
	// Disconnected reports that the client's session has ended.
	Disconnected(clientID string)
}

// AuditStore persists session records. *repository.SessionRepository
// implements it.
type AuditStore interface {
	Create(ctx context.Context, session *model.Session) error
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus, errMsg string) error
	UpdateCounters(ctx context.Context, id string, bytesIn, bytesOut int64) error
}

// Config holds configuration for the registry.
type Config struct {
	Mode    Mode
	Dialer  transport.Dialer
	History history.Resolver

	// ReplayBytes is the amount of history sent to a joining client.
	ReplayBytes    int
	ReadBufferSize int
	WriteTimeout   time.Duration
	Reconnect      *retry.Backoff

	// IdleTimeout disposes shared sessions that have had no clients for
	// this long. Zero keeps them until the remote closes.
	IdleTimeout time.Duration

	// RecordingDir enables asciicast recordings when set.
	RecordingDir string

	Audit  AuditStore
	Logger *slog.Logger
}

// Registry owns live sessions and client subscriptions.
type Registry struct {
	config Config
	sink   Sink
	logger *slog.Logger

	// ctx bounds every session's read loop.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
	clients  map[string]*subscription
	closed   bool
}

type subscription struct {
	entry      *entry
	translator *keys.Translator
}

// NewRegistry creates a registry delivering to sink.
func NewRegistry(config Config, sink Sink) (*Registry, error) {
	if _, err := ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if config.Dialer == nil {
		return nil, model.InvalidArgument("dialer is required")
	}
	if config.History == nil {
		return nil, model.InvalidArgument("history resolver is required")
	}
	if sink == nil {
		return nil, model.InvalidArgument("sink is required")
	}
	if config.ReplayBytes < 0 {
		return nil, model.InvalidArgument("replay bytes must not be negative, got %d", config.ReplayBytes)
	}
	if config.ReplayBytes == 0 {
		config.ReplayBytes = history.DefaultReplayBytes
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		config:   config,
		sink:     sink,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
		clients:  make(map[string]*subscription),
	}, nil
}

// Mode returns the registry's mode.
func (r *Registry) Mode() Mode { return r.config.Mode }

func (r *Registry) keyFor(clientID string, ep model.Endpoint) string {
	if r.config.Mode == ModeShared {
		return ep.String()
	}
	return clientID
}

// Connect subscribes clientID to the session for ep, creating and starting
// the session if none exists. The client is replayed recent history before
// it receives live output. A client already subscribed elsewhere leaves
// that session first without being sent a disconnect.
func (r *Registry) Connect(ctx context.Context, clientID string, ep model.Endpoint) error {
	if clientID == "" {
		return model.InvalidArgument("client id is required")
	}
	if ep.IsZero() {
		return model.InvalidArgument("endpoint is required")
	}

	r.leave(clientID)

	key := r.keyFor(clientID, ep)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return model.ErrDisposed
	}
	e, exists := r.sessions[key]
	if !exists {
		var err error
		e, err = r.newEntry(key, clientID, ep)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.sessions[key] = e
	}
	sub := &subscription{entry: e, translator: keys.NewTranslator()}
	r.clients[clientID] = sub
	r.mu.Unlock()

	if !exists {
		r.start(e)
	}

	joined := false
	err := e.session.Replay(ctx, r.config.ReplayBytes, func(tail []byte) {
		if !e.addMember(clientID) {
			return
		}
		joined = true
		if len(tail) > 0 {
			r.sink.Replay(clientID, tail)
		}
	})
	if err != nil {
		r.logger.Warn("history replay failed", "key", key, "client", clientID, "error", err)
	}

	if !joined {
		// The session ended between lookup and join.
		if r.dropSubscription(clientID, e) {
			r.sink.Disconnected(clientID)
		}
		return nil
	}

	r.logger.Info("client connected", "key", key, "client", clientID, "endpoint", ep.Address(), "new_session", !exists)
	return nil
}

// Disconnect removes the client's subscription. In per-client mode the
// client's session is disposed. Unknown clients are ignored.
func (r *Registry) Disconnect(clientID string) {
	if r.leave(clientID) {
		r.sink.Disconnected(clientID)
	}
}

// leave drops the client's subscription and reports whether it had one.
func (r *Registry) leave(clientID string) bool {
	r.mu.Lock()
	sub, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
		if r.config.Mode == ModePerClient && r.sessions[sub.entry.key] == sub.entry {
			delete(r.sessions, sub.entry.key)
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	remaining := sub.entry.removeMember(clientID)
	if r.config.Mode == ModePerClient {
		sub.entry.session.Dispose()
	}

	r.logger.Info("client disconnected", "key", sub.entry.key, "client", clientID, "remaining", remaining)
	return true
}

// SendKeyPress forwards a printable key to the client's session.
func (r *Registry) SendKeyPress(clientID string, code keys.Code) {
	if sub := r.subscription(clientID); sub != nil {
		sub.entry.write(sub.translator.KeyPress(code))
	}
}

// SendKeyDown forwards a control key to the client's session.
func (r *Registry) SendKeyDown(clientID string, code keys.Code) {
	if sub := r.subscription(clientID); sub != nil {
		sub.entry.write(sub.translator.KeyDown(code))
	}
}

// SendKeyUp releases the client's modifier.
func (r *Registry) SendKeyUp(clientID string, code keys.Code) {
	if sub := r.subscription(clientID); sub != nil {
		sub.translator.KeyUp(code)
	}
}

func (r *Registry) subscription(clientID string) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID]
}

func (r *Registry) dropSubscription(clientID string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.clients[clientID]; ok && sub.entry == e {
		delete(r.clients, clientID)
		return true
	}
	return false
}

// CleanupIdle disposes shared sessions without clients for longer than
// IdleTimeout and returns how many were disposed.
func (r *Registry) CleanupIdle(now time.Time) int {
	if r.config.Mode != ModeShared || r.config.IdleTimeout <= 0 {
		return 0
	}

	var idle []*entry
	r.mu.Lock()
	for key, e := range r.sessions {
		if since, ok := e.idleSince(); ok && now.Sub(since) >= r.config.IdleTimeout {
			delete(r.sessions, key)
			idle = append(idle, e)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		r.logger.Info("disposing idle session", "key", e.key)
		e.session.Dispose()
	}
	return len(idle)
}

// LiveSession describes a running session.
type LiveSession struct {
	Key       string         `json:"key"`
	RecordID  string         `json:"recordId"`
	Endpoint  model.Endpoint `json:"endpoint"`
	State     string         `json:"state"`
	Clients   []string       `json:"clients"`
	BytesIn   int64          `json:"bytesIn"`
	BytesOut  int64          `json:"bytesOut"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Snapshot returns the live sessions ordered by key.
func (r *Registry) Snapshot() []LiveSession {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	result := make([]LiveSession, 0, len(entries))
	for _, e := range entries {
		in, out := e.session.Stats()
		result = append(result, LiveSession{
			Key:       e.key,
			RecordID:  e.recordID,
			Endpoint:  e.session.Endpoint(),
			State:     e.session.State().String(),
			Clients:   e.memberIDs(),
			BytesIn:   in,
			BytesOut:  out,
			CreatedAt: e.createdAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ClientCount returns the number of subscribed clients.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close disposes every session and waits for their loops to end or ctx to
// expire. Connect fails after Close.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	r.cancel()
	for _, e := range entries {
		e.session.Dispose()
	}

	for _, e := range entries {
		select {
		case <-e.session.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions to close: %w", ctx.Err())
		}
	}
	return nil
}

// newEntry builds an unstarted session. Called with r.mu held.
func (r *Registry) newEntry(key, clientID string, ep model.Endpoint) (*entry, error) {
	store, err := r.config.History.Resolve(ep)
	if err != nil {
		return nil, err
	}

	e := &entry{
		key:       key,
		recordID:  uuid.NewString(),
		logger:    r.logger,
		members:   make(map[string]struct{}),
		createdAt: time.Now(),
		filter:    telnet.NewFilter(),
	}
	e.lastLeft = e.createdAt

	if r.config.Mode == ModePerClient {
		e.owner = clientID
	}

	sess, err := telnet.NewSession(telnet.Options{
		Endpoint:       ep,
		Dialer:         r.config.Dialer,
		History:        store,
		ReadBufferSize: r.config.ReadBufferSize,
		WriteTimeout:   r.config.WriteTimeout,
		Reconnect:      r.config.Reconnect,
		Logger:         r.logger.With("session", e.recordID),
		OnConnect:      func() { r.onConnect(e) },
		OnData:         func(data []byte) { r.onData(e, data) },
		OnClose:        func(err error) { r.onClose(e, err) },
	})
	if err != nil {
		r.config.History.Release(ep)
		return nil, err
	}
	e.session = sess

	if r.config.RecordingDir != "" {
		rec, err := recording.Create(r.config.RecordingDir, e.recordID, ep.Address())
		if err != nil {
			r.logger.Warn("failed to start recording", "session", e.recordID, "error", err)
		} else {
			e.recorder = rec
		}
	}
	return e, nil
}

func (r *Registry) start(e *entry) {
	ep := e.session.Endpoint()

	if r.config.Audit != nil {
		ctx, cancel := context.WithTimeout(r.ctx, auditTimeout)
		err := r.config.Audit.Create(ctx, &model.Session{
			ID:        e.recordID,
			Key:       e.key,
			ClientID:  e.owner,
			Host:      ep.Host,
			Port:      ep.Port,
			Status:    model.SessionStatusConnecting,
			CreatedAt: e.createdAt,
			UpdatedAt: e.createdAt,
		})
		cancel()
		if err != nil {
			r.logger.Warn("failed to record session", "session", e.recordID, "error", err)
		}
	}

	go e.session.Run(r.ctx)
}

const auditTimeout = 5 * time.Second

func (r *Registry) onConnect(e *entry) {
	if r.config.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := r.config.Audit.UpdateStatus(ctx, e.recordID, model.SessionStatusStreaming, ""); err != nil {
		r.logger.Warn("failed to update session status", "session", e.recordID, "error", err)
	}
}

// onData fans a chunk out to the session's members. It runs on the read
// loop, serialized with Replay.
func (r *Registry) onData(e *entry, data []byte) {
	if e.recorder != nil {
		if err := e.recorder.Output(e.filter.Process(data)); err != nil {
			r.logger.Debug("failed to record output", "session", e.recordID, "error", err)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for id := range e.members {
		r.sink.Deliver(id, data)
	}
}

func (r *Registry) onClose(e *entry, err error) {
	r.mu.Lock()
	if r.sessions[e.key] == e {
		delete(r.sessions, e.key)
	}
	r.mu.Unlock()

	members := e.close()

	var notify []string
	r.mu.Lock()
	for _, id := range members {
		if sub, ok := r.clients[id]; ok && sub.entry == e {
			delete(r.clients, id)
			notify = append(notify, id)
		}
	}
	r.mu.Unlock()

	for _, id := range notify {
		r.sink.Disconnected(id)
	}

	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			r.logger.Debug("failed to close recording", "session", e.recordID, "error", err)
		}
	}
	r.config.History.Release(e.session.Endpoint())

	if r.config.Audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()

		in, out := e.session.Stats()
		if uerr := r.config.Audit.UpdateCounters(ctx, e.recordID, in, out); uerr != nil {
			r.logger.Warn("failed to update session counters", "session", e.recordID, "error", uerr)
		}
		status, msg := model.SessionStatusClosed, ""
		if err != nil {
			status, msg = model.SessionStatusFailed, err.Error()
		}
		if uerr := r.config.Audit.UpdateStatus(ctx, e.recordID, status, msg); uerr != nil {
			r.logger.Warn("failed to update session status", "session", e.recordID, "error", uerr)
		}
	}

	r.logger.Info("session ended", "key", e.key, "session", e.recordID, "notified", len(notify))
}
