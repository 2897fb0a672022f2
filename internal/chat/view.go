// Package chat keeps the message list of one club chat in sync with the
// backend: it loads history, applies live socket events, and runs the
// optimistic send path.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/model"
	ratelimiter "github.com/johndosdos/clubchat/internal/rate_limiter"
	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/websocket"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNotConnected   = errors.New("not connected to chat")
	ErrRateLimited    = errors.New("sending too fast")
	ErrViewClosed     = errors.New("chat view is closed")
	ErrAlreadyRunning = errors.New("chat view is already running")
	ErrConnectionLost = errors.New("chat connection lost")
)

// API is the part of the REST client a View needs.
type API interface {
	ListMessages(ctx context.Context, limit int, before string) ([]model.Message, error)
	SendMessage(ctx context.Context, content string) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Conn is the live-updates socket. *websocket.Manager implements it.
type Conn interface {
	Open(ctx context.Context) error
	Events() <-chan websocket.Event
	Connected() bool
	Send(ctx context.Context, v any) error
	Close() error
}

type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseSending
	PhaseDisconnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseSending:
		return "sending"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type BannerKind int

const (
	BannerNone BannerKind = iota
	BannerConnection
	BannerError
)

// Banner is the notice shown above the message list.
type Banner struct {
	Kind BannerKind
	Text string
}

// Entry is one row of the rendered list: a confirmed message or a pending
// send.
type Entry struct {
	Message   model.Message
	Mine      bool
	CanDelete bool

	Pending  bool
	ClientID uuid.UUID
	State    PendingState
}

// SendOutcome describes an accepted send. Echoed is true when the server's
// broadcast reached the view before the request returned.
type SendOutcome struct {
	ClientID uuid.UUID
	Message  model.Message
	Echoed   bool
}

type Options struct {
	HistoryLimit int
	// PendingTimeout is how long a sent message may wait for its echo
	// before the view re-fetches recent history.
	PendingTimeout time.Duration
	TypingTTL      time.Duration
	// LoadRetry is how long a failed history load waits before trying
	// again.
	LoadRetry time.Duration
	// Tick drives housekeeping: typing expiry, overdue sends, load retries.
	Tick time.Duration

	SendLimiter   *ratelimiter.Limiter
	TypingLimiter *ratelimiter.Limiter
}

func (o *Options) setDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = 15 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 5 * time.Second
	}
	if o.LoadRetry <= 0 {
		o.LoadRetry = 5 * time.Second
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.SendLimiter == nil {
		o.SendLimiter = ratelimiter.NewLimiter(30, time.Minute)
	}
	if o.TypingLimiter == nil {
		o.TypingLimiter = ratelimiter.NewLimiter(1, 2*time.Second)
	}
}

type loadResult struct {
	msgs []model.Message
	err  error
}

// View is the chat screen of one signed-in user. All store mutations happen
// under mu: socket events from Run, results of Send and Delete from the
// caller's goroutine.
type View struct {
	session    *session.Session
	api        API
	conn       Conn
	logger     *slog.Logger
	opts       Options
	store      *Store
	dispatcher *Dispatcher

	mu       sync.Mutex
	outbox   outbox
	presence *presence
	draft    string
	errText  string

	generation   uint64
	live         bool
	loaded       bool
	fetching     bool
	refetch      bool
	needSync     bool
	reconnecting bool
	retryAt      time.Time
	buffered     [][]byte
	closed       bool

	running   atomic.Bool
	loads     chan loadResult
	updates   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(sess *session.Session, client API, conn Conn, logger *slog.Logger, opts Options) *View {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat", "user_id", sess.UserID)

	store := NewStore()
	return &View{
		session:    sess,
		api:        client,
		conn:       conn,
		logger:     logger,
		opts:       opts,
		store:      store,
		dispatcher: NewDispatcher(store, logger),
		presence:   newPresence(opts.TypingTTL),
		loads:      make(chan loadResult, 1),
		updates:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Run loads history, opens the socket and applies events until ctx is
// cancelled, Close is called, or the socket gives up reconnecting. The view
// is closed when Run returns.
func (v *View) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer v.Close()

	if err := v.conn.Open(ctx); err != nil {
		return fmt.Errorf("internal/chat: failed to open socket: %w", err)
	}

	v.mu.Lock()
	v.startFetch(ctx)
	v.mu.Unlock()

	ticker := time.NewTicker(v.opts.Tick)
	defer ticker.Stop()

	events := v.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-v.done:
			return nil

		case ev, ok := <-events:
			if !ok {
				if v.isClosed() {
					return nil
				}
				v.mu.Lock()
				v.live = false
				v.errText = "Connection lost. Restart the chat to reconnect."
				v.mu.Unlock()
				v.notify()
				return ErrConnectionLost
			}
			v.handle(ctx, ev)

		case res := <-v.loads:
			v.applyLoad(ctx, res)

		case now := <-ticker.C:
			v.housekeep(ctx, now)
		}
	}
}

// Close stops the view and its socket. Results of requests still in flight
// are discarded. Closing twice is a no-op.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		close(v.done)
		err = v.conn.Close()
		v.notify()
	})
	return err
}

func (v *View) handle(ctx context.Context, ev websocket.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	switch ev.Kind {
	case websocket.EventOpened:
		first := v.generation == 0
		v.generation = ev.Generation
		v.live = true
		if !first {
			v.reconnecting = true
			v.needSync = true
			v.logger.Info("socket reconnected; resyncing", "generation", ev.Generation)
			v.startFetch(ctx)
		}

	case websocket.EventClosed:
		if ev.Generation != v.generation {
			return
		}
		v.live = false
		v.presence.reset()
		v.logger.Warn("socket disconnected", "generation", ev.Generation, "error", ev.Err)

	case websocket.EventMessage:
		if ev.Generation != v.generation {
			v.logger.Debug("dropping event from stale connection",
				"generation", ev.Generation,
				"current", v.generation)
			return
		}
		if v.fetching {
			v.buffered = append(v.buffered, ev.Data)
			return
		}
		v.dispatch(ev.Data)
	}

	v.notify()
}

// dispatch applies one frame and its side effects outside the store.
// Callers hold mu.
func (v *View) dispatch(data []byte) {
	ev, err := v.dispatcher.Dispatch(data)
	if err != nil {
		return
	}

	now := time.Now()
	switch e := ev.(type) {
	case model.NewMessage:
		v.outbox.reconcile(e.Message.ID)
		v.presence.forget(e.Message.UserID)
	case model.UserTyping:
		if e.UserID != v.session.UserID {
			v.presence.touch(e.UserID, e.UserName, now)
		}
	case model.UserDisconnected:
		v.presence.forget(e.UserID)
	case model.ServerError:
		v.errText = e.Message
	}
}

// startFetch loads recent history in the background. A request made while
// a fetch is running is queued behind it. Callers hold mu.
func (v *View) startFetch(ctx context.Context) {
	if v.fetching {
		v.refetch = true
		return
	}
	v.fetching = true

	limit := v.opts.HistoryLimit
	go func() {
		msgs, err := v.api.ListMessages(ctx, limit, "")
		v.loads <- loadResult{msgs: msgs, err: err}
	}()
}

func (v *View) applyLoad(ctx context.Context, res loadResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.notify()

	v.fetching = false
	stale := v.refetch
	v.refetch = false
	if v.closed {
		return
	}

	now := time.Now()
	if res.err != nil {
		v.logger.Error("failed to load messages", "error", res.err)
		v.errText = "Failed to load messages"
		v.needSync = true
		v.retryAt = now.Add(v.opts.LoadRetry)
	} else {
		v.store.ReplaceAll(res.msgs)
		if n := v.outbox.settle(v.store, now, v.opts.PendingTimeout); n > 0 {
			v.logger.Debug("settled pending sends", "count", n)
		}
		if !stale {
			if !v.loaded || v.needSync {
				v.errText = ""
			}
			v.needSync = false
			v.reconnecting = false
		}
		v.loaded = true
		v.logger.Debug("loaded messages", "count", v.store.Len(), "stale", stale)
	}

	// Frames that arrived while loading were delivered after the
	// baseline was taken, so they go on top of it.
	pending := v.buffered
	v.buffered = nil
	for _, data := range pending {
		v.dispatch(data)
	}

	// The baseline was requested before a resync was asked for; take
	// another one now.
	if stale && res.err == nil {
		v.startFetch(ctx)
	}
}

func (v *View) housekeep(ctx context.Context, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	changed := v.presence.expire(now)

	if !v.fetching && v.live && v.loaded && v.outbox.overdue(now, v.opts.PendingTimeout) {
		v.logger.Warn("sent message was not echoed; resyncing", "timeout", v.opts.PendingTimeout)
		v.startFetch(ctx)
		changed = true
	}

	if !v.fetching && v.needSync && (v.live || !v.loaded) && !now.Before(v.retryAt) {
		v.startFetch(ctx)
	}

	if changed {
		v.notify()
	}
}

// Send posts text as a new message. The draft is cleared and a pending
// entry shown while the request runs. On failure the entry is rolled back,
// the draft restored and the error returned. On success the message joins
// the store only when its echo arrives.
func (v *View) Send(ctx context.Context, text string) (SendOutcome, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return SendOutcome{}, ErrEmptyMessage
	}

	v.mu.Lock()
	switch {
	case v.closed:
		v.mu.Unlock()
		return SendOutcome{}, ErrViewClosed
	case !v.conn.Connected():
		v.mu.Unlock()
		return SendOutcome{}, ErrNotConnected
	case !v.opts.SendLimiter.Allow():
		v.errText = fmt.Sprintf("You are sending messages too fast. Try again in %s.",
			v.opts.SendLimiter.RetryAfter().Round(time.Second))
		v.mu.Unlock()
		v.notify()
		return SendOutcome{}, ErrRateLimited
	}
	p := v.outbox.add(content, time.Now())
	v.draft = ""
	v.mu.Unlock()
	v.notify()

	msg, err := v.api.SendMessage(ctx, content)

	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.notify()

	if v.closed {
		return SendOutcome{}, ErrViewClosed
	}

	if err != nil {
		v.outbox.remove(p.ClientID)
		v.draft = text
		v.errText = "Failed to send message"
		var se *api.StatusError
		if errors.As(err, &se) && se.Detail != "" {
			v.errText = "Failed to send message: " + se.Detail
		}
		v.logger.Error("failed to send message", "error", err)
		return SendOutcome{}, fmt.Errorf("internal/chat: failed to send message: %w", err)
	}

	out := SendOutcome{ClientID: p.ClientID, Message: msg}
	if v.store.Has(msg.ID) {
		v.outbox.remove(p.ClientID)
		out.Echoed = true
	} else {
		v.outbox.markSent(p.ClientID, msg.ID, time.Now())
	}
	v.errText = ""

	return out, nil
}

// Delete asks the server to delete a message. The message leaves the store
// when the server broadcasts the deletion.
func (v *View) Delete(ctx context.Context, id string) error {
	if v.isClosed() {
		return ErrViewClosed
	}

	err := v.api.DeleteMessage(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.notify()

	if v.closed {
		return ErrViewClosed
	}

	if err != nil {
		switch {
		case api.IsForbidden(err):
			v.errText = "You can only delete your own messages"
		case api.IsNotFound(err):
			v.errText = "Message not found"
		default:
			v.errText = "Failed to delete message"
		}
		v.logger.Error("failed to delete message", "message_id", id, "error", err)
		return fmt.Errorf("internal/chat: failed to delete message %s: %w", id, err)
	}

	v.errText = ""
	return nil
}

// NotifyTyping tells the other members that the user is typing. Calls
// beyond the typing rate are dropped silently.
func (v *View) NotifyTyping(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	if !v.conn.Connected() {
		return ErrNotConnected
	}
	if !v.opts.TypingLimiter.Allow() {
		return nil
	}

	if err := v.conn.Send(ctx, model.NewTypingFrame()); err != nil {
		return fmt.Errorf("internal/chat: failed to send typing notice: %w", err)
	}
	return nil
}

func (v *View) Session() *session.Session { return v.session }

// Messages returns the confirmed messages in display order.
func (v *View) Messages() []model.Message { return v.store.Snapshot() }

// Message returns the confirmed message with the given id.
func (v *View) Message(id string) (model.Message, bool) { return v.store.Get(id) }

// Entries returns confirmed messages followed by pending sends.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	msgs := v.store.Snapshot()
	pending := v.outbox.snapshot()

	out := make([]Entry, 0, len(msgs)+len(pending))
	for _, m := range msgs {
		out = append(out, Entry{
			Message:   m,
			Mine:      v.session.IsMine(m),
			CanDelete: v.session.CanDelete(m),
		})
	}
	for _, p := range pending {
		out = append(out, Entry{
			Message: model.Message{
				ID:        p.ServerID,
				GroupID:   v.session.GroupID,
				UserID:    v.session.UserID,
				UserName:  v.session.Name(),
				Content:   p.Content,
				CreatedAt: model.NewTimestamp(p.QueuedAt),
			},
			Mine:     true,
			Pending:  true,
			ClientID: p.ClientID,
			State:    p.State,
		})
	}
	return out
}

func (v *View) Pending() []Pending {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outbox.snapshot()
}

// Typing lists other members who are typing right now.
func (v *View) Typing() []Typer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.presence.list()
}

func (v *View) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase()
}

func (v *View) phase() Phase {
	switch {
	case v.closed:
		return PhaseClosed
	case !v.loaded:
		return PhaseLoading
	case !v.live || v.reconnecting:
		return PhaseDisconnected
	case v.outbox.sending() > 0:
		return PhaseSending
	default:
		return PhaseReady
	}
}

// Banner returns the error notice if there is one, else the connection
// notice while disconnected.
func (v *View) Banner() Banner {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.errText != "":
		return Banner{Kind: BannerError, Text: v.errText}
	case v.closed:
		return Banner{}
	case v.loaded && (!v.live || v.reconnecting):
		return Banner{Kind: BannerConnection, Text: "Connection lost. Reconnecting..."}
	default:
		return Banner{}
	}
}

func (v *View) DismissBanner() {
	v.mu.Lock()
	v.errText = ""
	v.mu.Unlock()
	v.notify()
}

func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

func (v *View) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
}

// Updates receives a value whenever the view changed. Slow readers miss
// intermediate updates, never the latest one.
func (v *View) Updates() <-chan struct{} { return v.updates }

// Done is closed when the view is closed.
func (v *View) Done() <-chan struct{} { return v.done }

func (v *View) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
