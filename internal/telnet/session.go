// Package telnet manages the outbound TCP connection behind each browser
// terminal: dialing the remote host, reading its output into history and
// out to subscribers, and forwarding translated key input back to it.
package telnet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telnet-web-access/backend/internal/history"
	"github.com/telnet-web-access/backend/internal/model"
	"github.com/telnet-web-access/backend/internal/retry"
	"github.com/telnet-web-access/backend/internal/transport"
)

const (
	// DefaultReadBufferSize is the size of the buffer used for network reads (32KB).
	DefaultReadBufferSize = 32 * 1024

	// DefaultWriteTimeout bounds a single write to the remote host.
	DefaultWriteTimeout = 10 * time.Second
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned when Run is called on a session whose loop
// has already been started.
var ErrAlreadyRunning = errors.New("session already running")

// Options configures a Session.
type Options struct {
	Endpoint model.Endpoint
	Dialer   transport.Dialer
	History  history.Store

	// ReadBufferSize defaults to DefaultReadBufferSize.
	ReadBufferSize int
	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// Reconnect enables re-dialing after a stream error. Nil means a
	// stream error ends the session.
	Reconnect *retry.Backoff

	Logger *slog.Logger

	// OnConnect is called each time a connection to the remote host is established.
	OnConnect func()
	// OnData is called with every chunk read from the remote host, after
	// it has been appended to history. The slice is owned by the callee.
	OnData func(data []byte)
	// OnClose is called exactly once when the read loop ends. err is nil
	// for a graceful remote close or disposal.
	OnClose func(err error)
}

// Session is one managed connection to a remote endpoint.
type Session struct {
	endpoint     model.Endpoint
	dialer       transport.Dialer
	history      history.Store
	bufSize      int
	writeTimeout time.Duration
	reconnect    *retry.Backoff
	logger       *slog.Logger

	onConnect func()
	onData    func([]byte)
	onClose   func(error)

	mu       sync.Mutex // guards conn, cancel and disposed
	conn     net.Conn
	cancel   context.CancelFunc
	disposed bool

	writeMu   sync.Mutex
	deliverMu sync.Mutex

	state    atomic.Int32
	started  atomic.Bool
	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	disposeOnce sync.Once
	closeOnce   sync.Once
	done        chan struct{}
}

// NewSession validates opts and returns an idle session. Call Run to connect.
func NewSession(opts Options) (*Session, error) {
	if opts.Endpoint.IsZero() {
		return nil, model.InvalidArgument("endpoint is required")
	}
	if opts.Dialer == nil {
		return nil, model.InvalidArgument("dialer is required")
	}
	if opts.History == nil {
		return nil, model.InvalidArgument("history store is required")
	}
	if opts.ReadBufferSize < 0 {
		return nil, model.InvalidArgument("read buffer size must not be negative, got %d", opts.ReadBufferSize)
	}
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		endpoint:     opts.Endpoint,
		dialer:       opts.Dialer,
		history:      opts.History,
		bufSize:      opts.ReadBufferSize,
		writeTimeout: opts.WriteTimeout,
		reconnect:    opts.Reconnect,
		logger:       logger.With("endpoint", opts.Endpoint.String()),
		onConnect:    opts.OnConnect,
		onData:       opts.OnData,
		onClose:      opts.OnClose,
		done:         make(chan struct{}),
	}, nil
}

// Endpoint returns the remote endpoint of the session.
func (s *Session) Endpoint() model.Endpoint { return s.endpoint }

// History returns the session's history store.
func (s *Session) History() history.Store { return s.history }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the read loop has ended and OnClose has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns the number of bytes read from and written to the remote host.
func (s *Session) Stats() (in, out int64) {
	return s.bytesIn.Load(), s.bytesOut.Load()
}

// Run connects to the endpoint and reads until the remote closes, a stream
// error occurs (after reconnect attempts, if enabled) or the session is
// disposed. It returns the terminal error, nil for a graceful end.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.finish(nil)
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	// Cancellation of the parent context must also unblock a pending read.
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	err := s.loop(ctx)
	if ctx.Err() != nil {
		err = nil
	}
	s.finish(err)
	return err
}

func (s *Session) loop(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	for {
		err := s.receive(ctx, conn)
		if err == nil || ctx.Err() != nil || s.reconnect == nil {
			return err
		}

		s.logger.Warn("stream failed, reconnecting", "error", err)
		s.closeConn()
		s.state.Store(int32(StateReconnecting))

		err = s.reconnect.Do(ctx, func(attempt int) error {
			c, dialErr := s.dial(ctx)
			if dialErr != nil {
				if errors.Is(dialErr, model.ErrDisposed) {
					return retry.Permanent(dialErr)
				}
				s.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", dialErr)
				return dialErr
			}
			conn = c
			return nil
		})
		if err != nil {
			return err
		}
	}
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.endpoint.Address())
	if err != nil {
		return nil, model.NewOpError("dial", s.endpoint, model.ErrConnect, err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		conn.Close()
		return nil, model.ErrDisposed
	}
	s.conn = conn
	s.mu.Unlock()

	s.state.Store(int32(StateStreaming))
	s.logger.Info("connected")
	if s.onConnect != nil {
		s.onConnect()
	}
	return conn, nil
}

// receive reads from conn until it fails. It returns nil on a graceful close.
func (s *Session) receive(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, s.bufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.bytesIn.Add(int64(n))
			s.deliver(ctx, chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return model.NewOpError("read", s.endpoint, model.ErrStream, err)
		}
		if n == 0 {
			return nil
		}
	}
}

// deliver appends chunk to history and hands it to OnData. A history
// failure is logged and does not stop delivery.
func (s *Session) deliver(ctx context.Context, chunk []byte) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if err := s.history.Append(ctx, chunk); err != nil {
		s.logger.Warn("history append failed", "error", err)
	}
	if s.onData != nil {
		s.onData(chunk)
	}
}

// Replay reads up to maxBytes of history and passes it to fn. No chunk is
// delivered while fn runs, so a subscriber registered inside fn sees every
// byte exactly once: either in the replay or live.
func (s *Session) Replay(ctx context.Context, maxBytes int, fn func(tail []byte)) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	tail, err := s.history.Tail(ctx, maxBytes)
	if err != nil {
		fn(nil)
		return err
	}
	fn(tail)
	return nil
}

// Write sends data to the remote host. Writing to a session that has no
// live connection or has been disposed does nothing.
func (s *Session) Write(data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	conn := s.conn
	disposed := s.disposed
	s.mu.Unlock()

	if conn == nil || disposed {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	n, err := conn.Write(data)
	s.bytesOut.Add(int64(n))
	if err != nil {
		s.logger.Debug("write failed", "error", err)
	}
}

// Dispose stops the session. It is safe to call more than once and from
// any goroutine; a blocked read is interrupted by closing the connection.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.closeConn()
	})
}

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.closeConn()
		s.state.Store(int32(StateDisconnected))
		if err != nil {
			s.logger.Info("disconnected", "error", err)
		} else {
			s.logger.Info("disconnected")
		}
		if s.onClose != nil {
			s.onClose(err)
		}
		close(s.done)
	})
}
