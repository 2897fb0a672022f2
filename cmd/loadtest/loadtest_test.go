package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/testutil"
)

func TestRunLoad(t *testing.T) {
	b := testutil.NewBackend(t)
	opts := options{
		apiURL: b.URL(),
		tokens: []string{
			b.Token("u1", "Alice", session.RoleMember),
			b.Token("u2", "Bob", session.RoleMember),
		},
		messages: 3,
		interval: time.Millisecond,
		settle:   500 * time.Millisecond,
	}

	results, err := runLoad(context.Background(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Equal(t, 3, r.Sent, "member %s", r.UserID)
		assert.Equal(t, 0, r.Failed)
		assert.Equal(t, 3, r.Confirmed, "member %s", r.UserID)
		assert.Equal(t, 6, r.Received, "every member sees every message")
	}
	assert.Equal(t, int64(6), b.Posts())

	var out bytes.Buffer
	report(&out, results, opts.messages)
	assert.Contains(t, out.String(), "2 members x 3 messages")
	assert.Contains(t, out.String(), "u1")
	assert.Contains(t, out.String(), "confirmed")
}

func TestRunLoadCountsUnconfirmedSends(t *testing.T) {
	b := testutil.NewBackend(t)
	b.DropBroadcasts(true)
	opts := options{
		apiURL:   b.URL(),
		tokens:   []string{b.Token("u1", "Alice", session.RoleMember)},
		messages: 2,
		interval: time.Millisecond,
		settle:   200 * time.Millisecond,
	}

	results, err := runLoad(context.Background(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Sent)
	assert.Equal(t, 0, results[0].Confirmed, "nothing was broadcast back")
	assert.Equal(t, 0, results[0].Received)
}

func TestRootCmdRequiresToken(t *testing.T) {
	t.Setenv("CLUBCHAT_TOKENS", "")

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--api", "http://127.0.0.1:1"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token")
}

func TestRunLoadRejectsBadURL(t *testing.T) {
	_, err := runLoad(context.Background(), options{apiURL: "ws://nope", tokens: []string{"x"}}, slog.Default())
	assert.Error(t, err)
}
