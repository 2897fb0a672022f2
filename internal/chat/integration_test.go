package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/model"
	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/testutil"
	"github.com/johndosdos/clubchat/internal/websocket"
)

// connect wires a view to the fake backend the way main does.
func connect(t *testing.T, b *testutil.Backend, userID, name string, role session.Role) *View {
	t.Helper()

	token := b.Token(userID, name, role)
	sess, err := session.FromToken(token)
	require.NoError(t, err)

	client, err := api.New(b.URL(), token, api.WithTimeout(5*time.Second))
	require.NoError(t, err)
	profile, err := client.Me(context.Background())
	require.NoError(t, err)
	sess = sess.WithProfile(profile)

	conn := websocket.NewManager(websocket.Options{
		URL:     b.WSURL(),
		Token:   token,
		Backoff: websocket.BackoffConfig{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}, nil)

	opts := fastOptions()
	opts.Tick = 10 * time.Millisecond
	v := New(sess, client, conn, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- v.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	require.Eventually(t, func() bool { return v.Phase() == PhaseReady }, 5*time.Second, 10*time.Millisecond)
	return v
}

func contents(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestChatEndToEnd(t *testing.T) {
	b := testutil.NewBackend(t)
	b.Seed(model.Message{ID: "m1", UserID: "u2", UserName: "Bob", Content: "welcome"})

	alice := connect(t, b, "u1", "Alice", session.RoleMember)
	bob := connect(t, b, "u2", "Bob", session.RoleMember)
	assert.Equal(t, []string{"welcome"}, contents(alice.Messages()))

	out, err := alice.Send(context.Background(), "hello <b>club</b>")
	require.NoError(t, err)

	for _, v := range []*View{alice, bob} {
		require.Eventually(t, func() bool { return len(v.Messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"m1", out.Message.ID}, ids(v.Messages()))
	}
	assert.Equal(t, "hello club", alice.Messages()[1].Content, "server strips markup")
	require.Eventually(t, func() bool { return len(alice.Pending()) == 0 }, 5*time.Second, 10*time.Millisecond)

	entries := bob.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CanDelete)
	assert.False(t, entries[1].CanDelete)

	err = bob.Delete(context.Background(), out.Message.ID)
	assert.True(t, api.IsForbidden(err), "want 403, got %v", err)
	assert.Len(t, alice.Messages(), 2)

	require.NoError(t, alice.Delete(context.Background(), out.Message.ID))
	for _, v := range []*View{alice, bob} {
		require.Eventually(t, func() bool { return len(v.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	}
}

func TestChatTypingAcrossClients(t *testing.T) {
	b := testutil.NewBackend(t)
	alice := connect(t, b, "u1", "Alice", session.RoleMember)
	bob := connect(t, b, "u2", "Bob", session.RoleMember)

	require.NoError(t, alice.NotifyTyping(context.Background()))
	require.Eventually(t, func() bool { return len(bob.Typing()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Alice", bob.Typing()[0].UserName)
	assert.Empty(t, alice.Typing())
}

func TestChatResyncAfterReconnect(t *testing.T) {
	b := testutil.NewBackend(t)
	v := connect(t, b, "u1", "Alice", session.RoleMember)

	// stored without a broadcast, as if posted while the view was away
	b.Seed(model.Message{ID: "missed", UserID: "u2", UserName: "Bob", Content: "you missed this"})
	assert.Empty(t, v.Messages())

	b.DisconnectAll()
	require.Eventually(t, func() bool { return len(v.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"missed"}, ids(v.Messages()))
	require.Eventually(t, func() bool { return v.Phase() == PhaseReady }, 5*time.Second, 10*time.Millisecond)
}

func TestChatSendWithoutBroadcast(t *testing.T) {
	b := testutil.NewBackend(t)
	v := connect(t, b, "u1", "Alice", session.RoleMember)
	b.DropBroadcasts(true)

	out, err := v.Send(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Empty(t, v.Messages())
	require.Len(t, v.Pending(), 1)
	assert.Equal(t, out.Message.ID, v.Pending()[0].ServerID)
}

func TestChatSendFailure(t *testing.T) {
	b := testutil.NewBackend(t)
	v := connect(t, b, "u1", "Alice", session.RoleMember)
	b.FailSends(true)

	_, err := v.Send(context.Background(), "doomed")
	require.Error(t, err)
	assert.Equal(t, "doomed", v.Draft())
	assert.Empty(t, v.Messages())
	assert.Empty(t, v.Pending())
	assert.Contains(t, v.Banner().Text, "database unavailable")
}

func TestChatEchoBeforeResponse(t *testing.T) {
	b := testutil.NewBackend(t)
	v := connect(t, b, "u1", "Alice", session.RoleMember)
	b.SendDelay(200 * time.Millisecond)

	out, err := v.Send(context.Background(), "fast echo")
	require.NoError(t, err)
	assert.True(t, out.Echoed)
	assert.Empty(t, v.Pending())
	assert.Equal(t, []string{out.Message.ID}, ids(v.Messages()))
}
