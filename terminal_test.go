package main

import (
	"bytes"
	"context"
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

func newTestTerminal(t *testing.T, b *testutil.Backend, role session.Role) (*terminal, *bytes.Buffer) {
	t.Helper()

	token := b.Token("u1", "Alice", role)
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
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	require.Eventually(t, func() bool { return v.Phase() == chat.PhaseReady }, 5*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	return newTerminal(v, conn, &out), &out
}

func TestTerminalPrintsHistoryOnce(t *testing.T) {
	b := testutil.NewBackend(t)
	b.Seed(model.Message{ID: "m1", UserID: "u2", UserName: "Bob", Content: "hello alice"})
	tty, out := newTestTerminal(t, b, session.RoleMember)

	tty.refresh()
	tty.refresh()

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("hello alice")))
	assert.Contains(t, out.String(), "Bob: hello alice  #m1")
}

func TestTerminalSendAndDelete(t *testing.T) {
	b := testutil.NewBackend(t)
	tty, out := newTestTerminal(t, b, session.RoleMember)
	ctx := context.Background()

	assert.False(t, tty.execute(ctx, "good morning"))
	require.Eventually(t, func() bool { return len(tty.view.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	tty.refresh()
	assert.Contains(t, out.String(), "Alice (you): good morning")

	id := tty.view.Messages()[0].ID
	assert.False(t, tty.execute(ctx, "/delete #"+id))
	require.Eventually(t, func() bool { return len(tty.view.Messages()) == 0 }, 5*time.Second, 10*time.Millisecond)

	tty.refresh()
	assert.Contains(t, out.String(), "* message #"+id+" was deleted")
}

func TestTerminalSendFailureKeepsDraft(t *testing.T) {
	b := testutil.NewBackend(t)
	tty, out := newTestTerminal(t, b, session.RoleMember)
	b.FailSends(true)

	tty.execute(context.Background(), "will fail")

	assert.Contains(t, out.String(), "! Failed to send message: database unavailable")
	assert.Contains(t, out.String(), "kept as draft: will fail")
	assert.Equal(t, "will fail", tty.view.Draft())
}

func TestTerminalCommands(t *testing.T) {
	b := testutil.NewBackend(t)
	b.Seed(model.Message{ID: "m1", UserID: "u2", UserName: "Bob", Content: "not yours"})
	tty, out := newTestTerminal(t, b, session.RoleMember)
	ctx := context.Background()

	tests := []struct {
		line     string
		want     string
		wantQuit bool
	}{
		{"/who", "Alice (u1) in group 1 as member", false},
		{"/state", "ready, 1 messages, 0 pending, socket connected (connection 1)", false},
		{"/delete", "usage: /delete <id>", false},
		{"/delete m1", "! could not delete: You can only delete your own messages", false},
		{"/bogus", "unknown command /bogus", false},
		{"   ", "", false},
		{"/quit", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out.Reset()
			assert.Equal(t, tt.wantQuit, tty.execute(ctx, tt.line))
			if tt.want != "" {
				assert.Contains(t, out.String(), tt.want)
			}
		})
	}
}
