package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Event
		wantErr bool
	}{
		{
			"connected",
			`{"type":"connected","group_id":7,"user_id":"u1"}`,
			Connected{GroupID: 7, UserID: "u1"},
			false,
		},
		{
			"message_deleted",
			`{"type":"message_deleted","message_id":"m1"}`,
			MessageDeleted{MessageID: "m1"},
			false,
		},
		{
			"user_typing",
			`{"type":"user_typing","user_id":"u2","user_name":"Bob"}`,
			UserTyping{UserID: "u2", UserName: "Bob"},
			false,
		},
		{
			"user_disconnected",
			`{"type":"user_disconnected","user_id":"u2"}`,
			UserDisconnected{UserID: "u2"},
			false,
		},
		{
			"server_error",
			`{"type":"error","message":"Invalid message format"}`,
			ServerError{Message: "Invalid message format"},
			false,
		},
		{"not_json", `not json`, nil, true},
		{"missing_type", `{"message_id":"m1"}`, nil, true},
		{"new_message_without_message", `{"type":"new_message"}`, nil, true},
		{"new_message_without_id", `{"type":"new_message","message":{"content":"hi"}}`, nil, true},
		{"new_message_null", `{"type":"new_message","message":null}`, nil, true},
		{"deleted_without_id", `{"type":"message_deleted"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("DecodeEvent() error = %v, want ErrMalformedEvent", err)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventNewMessage(t *testing.T) {
	data := `{"type":"new_message","message":{"message_id":"m4","group_id":1,` +
		`"user_id":"u1","user_name":"Alice","content":"hello","created_at":"2024-03-01T10:20:30.123456"}}`

	ev, err := DecodeEvent([]byte(data))
	require.NoError(t, err)

	nm, ok := ev.(NewMessage)
	require.True(t, ok, "want NewMessage, got %T", ev)
	assert.Equal(t, TypeNewMessage, nm.Type())
	assert.Equal(t, "m4", nm.Message.ID)
	assert.Equal(t, "Alice", nm.Message.UserName)
	assert.Equal(t, "hello", nm.Message.Content)

	want := time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC)
	assert.True(t, nm.Message.CreatedAt.Equal(want), "created_at = %v", nm.Message.CreatedAt)
}

func TestDecodeEventUnknown(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"reaction_added","emoji":"+1"}`))
	require.NoError(t, err)

	u, ok := ev.(Unknown)
	require.True(t, ok, "want Unknown, got %T", ev)
	assert.Equal(t, "reaction_added", u.Tag)
	assert.JSONEq(t, `{"type":"reaction_added","emoji":"+1"}`, string(u.Raw))
}

func TestTimestamp(t *testing.T) {
	t.Run("rfc3339", func(t *testing.T) {
		var ts Timestamp
		require.NoError(t, ts.UnmarshalJSON([]byte(`"2024-03-01T10:20:30+02:00"`)))
		assert.True(t, ts.Equal(time.Date(2024, 3, 1, 8, 20, 30, 0, time.UTC)), "got %v", ts.Time)
	})

	t.Run("empty_and_null", func(t *testing.T) {
		var ts Timestamp
		require.NoError(t, ts.UnmarshalJSON([]byte(`""`)))
		assert.True(t, ts.IsZero())
		require.NoError(t, ts.UnmarshalJSON([]byte(`null`)))
		assert.True(t, ts.IsZero())
	})

	t.Run("garbage", func(t *testing.T) {
		var ts Timestamp
		assert.Error(t, ts.UnmarshalJSON([]byte(`"yesterday"`)))
		assert.Error(t, ts.UnmarshalJSON([]byte(`12`)))
	})
}
