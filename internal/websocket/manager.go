// Package websocket owns the live-updates socket of a chat view: it dials,
// reads frames, and redials with bounded exponential backoff when the
// connection drops.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var (
	ErrNotConnected = errors.New("socket is not connected")
	ErrAlreadyOpen  = errors.New("manager already opened")
	ErrClosed       = errors.New("manager is closed")
)

type Options struct {
	// URL is the socket endpoint without credentials.
	URL string
	// Token is passed as the "token" query parameter, which is the only
	// form of authentication the chat socket accepts.
	Token string

	Backoff      BackoffConfig
	DialTimeout  time.Duration
	ReadLimit    int64
	WriteTimeout time.Duration
	EventBuffer  int
}

func (o *Options) setDefaults() {
	if o.Backoff == (BackoffConfig{}) {
		o.Backoff = DefaultBackoff()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
}

// Manager keeps at most one socket open at a time and reports what happens
// to it on Events. The events channel is closed once the manager stops,
// either through Close or because it gave up reconnecting.
type Manager struct {
	opts   Options
	logger *slog.Logger

	events     chan Event
	state      stateValue
	generation atomic.Uint64

	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
	closed  bool
}

func NewManager(opts Options, logger *slog.Logger) *Manager {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		opts:   opts,
		logger: logger.With("component", "websocket"),
		events: make(chan Event, opts.EventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Open starts connecting in the background. It returns immediately;
// progress is reported on Events.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case m.started:
		return ErrAlreadyOpen
	}

	if _, err := url.Parse(m.opts.URL); err != nil {
		return fmt.Errorf("internal/websocket: invalid socket url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true
	go m.supervise(ctx)

	return nil
}

// Close closes the socket with a normal closure and stops reconnecting.
// Events is closed when Close returns. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	conn, cancel, started := m.conn, m.cancel, m.started
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
			m.logger.Debug("close handshake did not complete", "error", err)
		}
	}

	if !started {
		m.state.store(StateClosed)
		close(m.events)
		close(m.done)
		return nil
	}

	cancel()
	<-m.done
	return nil
}

func (m *Manager) Events() <-chan Event { return m.events }

// Done is closed once the manager has stopped for good.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) State() State { return m.state.load() }

func (m *Manager) Connected() bool { return m.state.load() == StateConnected }

// Generation is the number of the current (or last) connection.
func (m *Manager) Generation() uint64 { return m.generation.Load() }

// Send writes v as a JSON text frame on the current connection.
func (m *Manager) Send(ctx context.Context, v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, v); err != nil {
		return fmt.Errorf("internal/websocket: failed to write frame: %w", err)
	}

	return nil
}

func (m *Manager) supervise(ctx context.Context) {
	defer func() {
		m.state.store(StateClosed)
		close(m.events)
		close(m.done)
	}()

	backoff := m.opts.Backoff.build()
	for {
		if ctx.Err() != nil {
			return
		}

		m.state.store(StateConnecting)
		conn, err := m.dial(ctx)
		if err == nil {
			backoff = m.opts.Backoff.build()
			err = m.serve(ctx, conn)
		}

		if ctx.Err() != nil || m.stopping() {
			return
		}

		if permanent(err) {
			m.logger.Error("socket rejected credentials; not reconnecting", "error", err)
			return
		}

		delay, stop := backoff.Next()
		if stop {
			m.logger.Error("giving up reconnecting",
				"attempts", m.opts.Backoff.MaxAttempts,
				"error", err)
			return
		}

		m.state.store(StateBackoff)
		m.logger.Warn("socket unavailable; retrying",
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stop:
			timer.Stop()
			return
		}
	}
}

// serve runs one connection until it ends and reports its lifecycle.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(m.opts.ReadLimit)
	gen := m.generation.Add(1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closed")
		return ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()

	m.state.store(StateConnected)
	m.logger.Info("socket connected", "endpoint", m.opts.URL, "generation", gen)
	m.emit(ctx, Event{Kind: EventOpened, Generation: gen})

	err := m.read(ctx, conn, gen)

	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	conn.CloseNow()

	m.state.store(StateDisconnected)
	m.emit(ctx, Event{Kind: EventClosed, Generation: gen, Err: err})

	return err
}

func (m *Manager) read(ctx context.Context, conn *websocket.Conn, gen uint64) error {
	for {
		msgType, p, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				m.logger.Warn("socket closed by peer",
					"status", status.String(),
					"generation", gen)
			}
			return err
		}

		// The chat socket only speaks JSON text frames.
		if msgType != websocket.MessageText {
			continue
		}

		if !m.emit(ctx, Event{Kind: EventMessage, Generation: gen, Data: p}) {
			return ErrClosed
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("internal/websocket: invalid socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", m.opts.Token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, res, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return nil, &rejectedError{status: res.StatusCode, err: err}
		}
		return nil, fmt.Errorf("internal/websocket: failed to dial %s: %w", m.opts.URL, err)
	}

	return conn, nil
}

// emit hands ev to the owner unless the manager is stopping.
func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-m.stop:
		return false
	}
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

type rejectedError struct {
	status int
	err    error
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("internal/websocket: handshake rejected with %d: %v", e.status, e.err)
}

func (e *rejectedError) Unwrap() error { return e.err }

// permanent reports whether err means the credentials were refused, in
// which case retrying cannot help.
func permanent(err error) bool {
	if err == nil {
		return false
	}
	var rej *rejectedError
	if errors.As(err, &rej) {
		return true
	}
	return websocket.CloseStatus(err) == websocket.StatusPolicyViolation
}
