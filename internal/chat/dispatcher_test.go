package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/clubchat/internal/model"
)

func TestDispatcher(t *testing.T) {
	tests := []struct {
		name    string
		frames  []string
		want    []string
		wantErr bool
	}{
		{
			name: "new_messages_in_delivery_order",
			frames: []string{
				`{"type":"new_message","message":{"message_id":"m5","user_id":"u1","content":"e"}}`,
				`{"type":"new_message","message":{"message_id":"m4","user_id":"u1","content":"d"}}`,
			},
			want: []string{"m1", "m2", "m3", "m5", "m4"},
		},
		{
			name:   "duplicate_is_ignored",
			frames: []string{`{"type":"new_message","message":{"message_id":"m2","content":"again"}}`},
			want:   []string{"m1", "m2", "m3"},
		},
		{
			name:   "delete_present",
			frames: []string{`{"type":"message_deleted","message_id":"m2"}`},
			want:   []string{"m1", "m3"},
		},
		{
			name:   "delete_absent_is_noop",
			frames: []string{`{"type":"message_deleted","message_id":"m9"}`},
			want:   []string{"m1", "m2", "m3"},
		},
		{
			name: "non_message_events_leave_store",
			frames: []string{
				`{"type":"connected","group_id":1,"user_id":"u1"}`,
				`{"type":"user_typing","user_id":"u2","user_name":"Bob"}`,
				`{"type":"user_disconnected","user_id":"u2"}`,
				`{"type":"error","message":"Invalid JSON"}`,
				`{"type":"reaction_added","emoji":"+1"}`,
			},
			want: []string{"m1", "m2", "m3"},
		},
		{
			name:    "malformed",
			frames:  []string{`{"type":"new_message","message":{"content":"no id"}}`},
			want:    []string{"m1", "m2", "m3"},
			wantErr: true,
		},
		{
			name:    "not_json",
			frames:  []string{`hello`},
			want:    []string{"m1", "m2", "m3"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			s.ReplaceAll([]model.Message{msg("m1"), msg("m2"), msg("m3")})
			d := NewDispatcher(s, nil)

			var lastErr error
			for _, f := range tt.frames {
				if _, err := d.Dispatch([]byte(f)); err != nil {
					lastErr = err
				}
			}

			if tt.wantErr {
				require.Error(t, lastErr)
				assert.True(t, errors.Is(lastErr, model.ErrMalformedEvent))
			} else {
				require.NoError(t, lastErr)
			}
			assert.Equal(t, tt.want, ids(s.Snapshot()))
		})
	}
}

func TestDispatcherReturnsTypedEvent(t *testing.T) {
	d := NewDispatcher(NewStore(), nil)

	ev, err := d.Dispatch([]byte(`{"type":"user_typing","user_id":"u2","user_name":"Bob"}`))
	require.NoError(t, err)
	assert.Equal(t, model.UserTyping{UserID: "u2", UserName: "Bob"}, ev)
}
