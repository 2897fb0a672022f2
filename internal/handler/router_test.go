package handler

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/chat"
	"github.com/johndosdos/clubchat/internal/model"
	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/testutil"
	"github.com/johndosdos/clubchat/internal/websocket"
)

type preview struct {
	backend *testutil.Backend
	view    *chat.View
	hub     *Hub
	server  *httptest.Server
}

func newPreview(t *testing.T) *preview {
	t.Helper()

	b := testutil.NewBackend(t)
	b.Seed(
		model.Message{ID: "m1", UserID: "u2", UserName: "Bob", Content: "hi from bob"},
		model.Message{ID: "m2", UserID: "u1", UserName: "Alice", Content: "hi from alice"},
	)

	token := b.Token("u1", "Alice", session.RoleMember)
	sess, err := session.FromToken(token)
	require.NoError(t, err)
	sess.DisplayName = "Alice"

	client, err := api.New(b.URL(), token)
	require.NoError(t, err)

	conn := websocket.NewManager(websocket.Options{
		URL:     b.WSURL(),
		Token:   token,
		Backoff: websocket.BackoffConfig{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}, nil)
	v := chat.New(sess, client, conn, nil, chat.Options{Tick: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- v.Run(ctx) }()

	hub := NewHub(v)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(v, hub, "Club chat"))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-errc
	})

	require.Eventually(t, func() bool { return v.Phase() == chat.PhaseReady }, 5*time.Second, 10*time.Millisecond)
	return &preview{backend: b, view: v, hub: hub, server: srv}
}

func (p *preview) get(t *testing.T, path string) (int, string) {
	t.Helper()
	res, err := http.Get(p.server.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func (p *preview) post(t *testing.T, path string, form url.Values, htmx bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, p.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}

	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := noRedirect.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestServeChat(t *testing.T) {
	p := newPreview(t)

	status, html := p.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, html, "<title>Club chat</title>")
	assert.Contains(t, html, "Signed in as Alice")
	assert.Contains(t, html, `sse-connect="/events"`)
	assert.Contains(t, html, "hi from bob")
	assert.Contains(t, html, `name="content"`)
	assert.Contains(t, html, `data-phase="ready"`)
	assert.NotContains(t, html, "disabled")
}

func TestServeMessagesDeleteAffordance(t *testing.T) {
	p := newPreview(t)

	status, html := p.get(t, "/messages")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, html, `action="/messages/m2/delete"`, "own message is deletable")
	assert.NotContains(t, html, `action="/messages/m1/delete"`, "someone else's message is not")
}

func TestSendMessage(t *testing.T) {
	p := newPreview(t)

	t.Run("htmx", func(t *testing.T) {
		res := p.post(t, "/messages", url.Values{"content": {"from the preview"}}, true)
		assert.Equal(t, http.StatusOK, res.StatusCode)

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		html := string(body)
		assert.Contains(t, html, `id="chat-panel"`)
		assert.Contains(t, html, `name="content" autocomplete="off" placeholder="Type a message..." value=""`, "the input is cleared")
		assert.NotContains(t, html, "disabled")
		assert.Equal(t, "", p.view.Draft())

		require.Eventually(t, func() bool {
			_, html := p.get(t, "/messages")
			return strings.Contains(html, "from the preview")
		}, 5*time.Second, 20*time.Millisecond)
		assert.Len(t, p.backend.Messages(), 3)
	})

	t.Run("plain_form_redirects", func(t *testing.T) {
		res := p.post(t, "/messages", url.Values{"content": {"no js"}}, false)
		assert.Equal(t, http.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/", res.Header.Get("Location"))
	})

	t.Run("empty", func(t *testing.T) {
		res := p.post(t, "/messages", url.Values{"content": {"   "}}, true)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestDeleteMessage(t *testing.T) {
	p := newPreview(t)

	res := p.post(t, "/messages/m1/delete", nil, true)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "You can only delete your own messages")

	res = p.post(t, "/messages/m2/delete", nil, true)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.Eventually(t, func() bool {
		_, html := p.get(t, "/messages")
		return !strings.Contains(html, "hi from alice")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStreamSSE(t *testing.T) {
	p := newPreview(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.server.URL+"/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(res.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data: ") {
				events <- line
			}
		}
	}()

	waitFor := func(substr string) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-events:
				if !ok {
					t.Fatalf("stream ended before %q", substr)
				}
				if strings.Contains(line, substr) {
					return
				}
			case <-timeout:
				t.Fatalf("no panel containing %q", substr)
			}
		}
	}

	waitFor("hi from bob")

	_, err = p.view.Send(context.Background(), "pushed over sse")
	require.NoError(t, err)
	waitFor("pushed over sse")
}

func TestHub(t *testing.T) {
	p := newPreview(t)
	client := NewClient("u1")
	require.True(t, p.hub.Join(client))

	p.view.DismissBanner()
	select {
	case <-client.Notify:
	case <-time.After(5 * time.Second):
		t.Fatal("client was not notified")
	}

	p.hub.Leave(client)
	closed := make(chan struct{})
	go func() {
		for range client.Notify {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("leaving must close the notify channel")
	}
}
