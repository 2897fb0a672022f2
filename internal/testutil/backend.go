// Package testutil runs an in-process stand-in for the club backend's chat
// endpoints so the client packages can be tested end to end.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/clubchat/internal/model"
	"github.com/johndosdos/clubchat/internal/session"
)

const tokenSecret = "validtokensecret"

// naiveISO is how the backend formats created_at: no zone, microseconds.
const naiveISO = "2006-01-02T15:04:05.000000"

type user struct {
	id      string
	name    string
	email   string
	role    session.Role
	groupID int64
}

// Backend serves GET/POST/DELETE /api/chat/messages, GET /api/auth/me and
// the /api/chat/ws socket, broadcasting new_message and message_deleted the
// way the real server does.
type Backend struct {
	Server *httptest.Server

	ctx    context.Context
	cancel context.CancelFunc
	hub    *hub

	sanitizer *bluemonday.Policy
	closeOnce sync.Once

	mu       sync.Mutex
	users    map[string]user
	messages []model.Message

	failSends      atomic.Bool
	dropBroadcasts atomic.Bool
	sendDelay      atomic.Int64
	posts          atomic.Int64
	lists          atomic.Int64
}

// NewBackend starts a backend that is shut down when t finishes.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		ctx:       ctx,
		cancel:    cancel,
		hub:       newHub(),
		sanitizer: bluemonday.StrictPolicy(),
		users:     make(map[string]user),
	}
	go b.hub.run(ctx)

	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Close)

	return b
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.With(b.requireBearer).Get("/auth/me", b.serveMe)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/ws", b.serveWs)

			r.Group(func(r chi.Router) {
				r.Use(b.requireBearer)
				r.Get("/messages", b.listMessages)
				r.Post("/messages", b.sendMessage)
				r.Delete("/messages/{id}", b.deleteMessage)
			})
		})
	})

	return r
}

// Close disconnects every socket and stops the server.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		b.DisconnectAll()
		b.cancel()
		b.Server.Close()
	})
}

func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http") + "/api/chat/ws"
}

// Token registers a user in group 1 and returns a signed access token for
// it, shaped like the backend's: user_id, email, group_id and role claims.
func (b *Backend) Token(userID, name string, role session.Role) string {
	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com"

	b.mu.Lock()
	b.users[userID] = user{id: userID, name: name, email: email, role: role, groupID: 1}
	b.mu.Unlock()

	return MakeJWT(session.Claims{
		UserID:  userID,
		Email:   email,
		GroupID: 1,
		Role:    string(role),
	}, time.Hour)
}

// MakeJWT signs claims with the backend's secret.
func MakeJWT(claims session.Claims, expiresIn time.Duration) string {
	now := time.Now().UTC()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiresIn))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		panic(fmt.Sprintf("testutil: failed to sign token: %v", err))
	}
	return token
}

func validateJWT(tokenString string) (session.Claims, error) {
	var claims session.Claims
	token, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return session.Claims{}, fmt.Errorf("testutil: failed to parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return session.Claims{}, errors.New("testutil: token is invalid")
	}

	return claims, nil
}

// Seed appends messages as if they had been sent earlier.
func (b *Backend) Seed(msgs ...model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range msgs {
		if m.GroupID == 0 {
			m.GroupID = 1
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = model.NewTimestamp(time.Now())
		}
		b.messages = append(b.messages, m)
	}
}

// Messages is the persisted history, oldest first.
func (b *Backend) Messages() []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]model.Message(nil), b.messages...)
}

// FailSends makes POST /messages answer 500 without persisting.
func (b *Backend) FailSends(fail bool) { b.failSends.Store(fail) }

// DropBroadcasts persists messages and deletions but never pushes the
// corresponding socket events.
func (b *Backend) DropBroadcasts(drop bool) { b.dropBroadcasts.Store(drop) }

// SendDelay holds every POST /messages for d after broadcasting, so the
// echo reaches clients before the response does.
func (b *Backend) SendDelay(d time.Duration) { b.sendDelay.Store(int64(d)) }

func (b *Backend) Posts() int64 { return b.posts.Load() }
func (b *Backend) Lists() int64 { return b.lists.Load() }

// Push sends v as a raw frame to every socket, ignoring DropBroadcasts.
func (b *Backend) Push(v any) {
	p, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: could not encode frame: %v", err))
	}
	b.PushRaw(p)
}

// PushRaw sends p unmodified to every socket.
func (b *Backend) PushRaw(p []byte) {
	select {
	case b.hub.broadcast <- p:
	case <-b.ctx.Done():
	}
}

func (b *Backend) broadcast(v any) {
	if b.dropBroadcasts.Load() {
		return
	}
	b.Push(v)
}

// DisconnectAll closes every socket with going-away, as a server restart
// would.
func (b *Backend) DisconnectAll() {
	select {
	case b.hub.kick <- websocket.StatusGoingAway:
	case <-b.ctx.Done():
	}
}

// Connections is the number of sockets currently registered.
func (b *Backend) Connections() int {
	reply := make(chan int, 1)
	select {
	case b.hub.count <- reply:
		return <-reply
	case <-b.ctx.Done():
		return 0
	}
}

type ctxKey string

const claimsKey ctxKey = "claims"

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := validateJWT(token)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) session.Claims {
	c, _ := r.Context().Value(claimsKey).(session.Claims)
	return c
}

func (b *Backend) userName(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u, ok := b.users[id]; ok {
		return u.name
	}
	return "Unknown"
}

func (b *Backend) serveMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	b.mu.Lock()
	u, ok := b.users[claims.UserID]
	b.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      u.id,
		"email":        u.email,
		"display_name": u.name,
		"group_id":     u.groupID,
		"role":         string(u.role),
	})
}

func (b *Backend) listMessages(w http.ResponseWriter, r *http.Request) {
	b.lists.Add(1)

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	before := r.URL.Query().Get("before")

	b.mu.Lock()
	msgs := b.messages
	if before != "" {
		for i, m := range msgs {
			if m.ID == before {
				msgs = msgs[:i]
				break
			}
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage(m))
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) sendMessage(w http.ResponseWriter, r *http.Request) {
	b.posts.Add(1)
	claims := claimsFrom(r)

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid body")
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeDetail(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}
	if b.failSends.Load() {
		writeDetail(w, http.StatusInternalServerError, "database unavailable")
		return
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		GroupID:   claims.GroupID,
		UserID:    claims.UserID,
		UserName:  b.userName(claims.UserID),
		Content:   b.sanitizer.Sanitize(content),
		CreatedAt: model.NewTimestamp(time.Now()),
	}

	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	b.broadcast(map[string]any{
		"type":    model.TypeNewMessage,
		"message": wireMessage(msg),
	})

	if d := time.Duration(b.sendDelay.Load()); d > 0 {
		time.Sleep(d)
	}

	writeJSON(w, http.StatusOK, wireMessage(msg))
}

func (b *Backend) deleteMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	idx := -1
	for i, m := range b.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Message not found")
		return
	}
	if claims.Role != string(session.RoleAdmin) && b.messages[idx].UserID != claims.UserID {
		b.mu.Unlock()
		writeDetail(w, http.StatusForbidden, "Permission denied")
		return
	}
	b.messages = append(b.messages[:idx], b.messages[idx+1:]...)
	b.mu.Unlock()

	b.broadcast(map[string]any{
		"type":       model.TypeMessageDeleted,
		"message_id": id,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Message deleted successfully"})
}

// serveWs authenticates with the token query parameter. A bad token is
// closed with policy violation once upgraded, as the backend does.
func (b *Backend) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("testutil: failed to accept websocket: %v", err)
		return
	}

	claims, err := validateJWT(r.URL.Query().Get("token"))
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "Invalid token")
		return
	}

	p := &peer{userID: claims.UserID, conn: conn, send: make(chan []byte, 64)}
	reg := registration{peer: p, done: make(chan struct{})}
	select {
	case b.hub.register <- reg:
	case <-b.ctx.Done():
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	<-reg.done

	ctx := r.Context()
	hello, _ := json.Marshal(map[string]any{
		"type":     model.TypeConnected,
		"group_id": claims.GroupID,
		"user_id":  claims.UserID,
	})

	// The hub may close p.send at any time; the writer stops then.
	go func() {
		if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
			return
		}
		for frame := range p.send {
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}()

	b.readPeer(ctx, p)
}

func (b *Backend) readPeer(ctx context.Context, p *peer) {
	defer func() {
		select {
		case b.hub.unregister <- p:
		case <-b.ctx.Done():
		}
		p.conn.CloseNow()
	}()

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			errFrame, _ := json.Marshal(map[string]any{
				"type":    model.TypeError,
				"message": "Invalid message format",
			})
			_ = p.conn.Write(ctx, websocket.MessageText, errFrame)
			continue
		}

		if frame.Type == string(model.TypeTyping) {
			b.Push(map[string]any{
				"type":      model.TypeUserTyping,
				"user_id":   p.userID,
				"user_name": b.userName(p.userID),
			})
		}
	}
}

func wireMessage(m model.Message) map[string]any {
	return map[string]any{
		"message_id": m.ID,
		"group_id":   m.GroupID,
		"user_id":    m.UserID,
		"user_name":  m.UserName,
		"content":    m.Content,
		"created_at": m.CreatedAt.UTC().Format(naiveISO),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("testutil: failed to write response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
