package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/johndosdos/clubchat/internal/chat"
	"github.com/johndosdos/clubchat/internal/websocket"
)

const help = `commands:
  /delete <id>  delete a message
  /typing       tell the club you are typing
  /who          show who you are signed in as
  /state        show the view and socket state
  /quit         leave`

// socket is what /state reports about the live connection.
type socket interface {
	State() websocket.State
	Generation() uint64
}

// terminal prints what changed in the view since the last refresh and
// runs the lines the user types.
type terminal struct {
	view   *chat.View
	socket socket
	out    io.Writer

	mu      sync.Mutex
	printed map[string]bool
	banner  chat.Banner
	typing  string
}

func newTerminal(v *chat.View, s socket, out io.Writer) *terminal {
	return &terminal{view: v, socket: s, out: out, printed: make(map[string]bool)}
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...) //nolint:errcheck
}

// refresh prints new and deleted messages, and banner or typing changes.
func (t *terminal) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b := t.view.Banner(); b != t.banner {
		t.banner = b
		if b.Kind != chat.BannerNone {
			t.printf("! %s", b.Text)
		}
	}

	present := make(map[string]bool)
	for _, e := range t.view.Entries() {
		if e.Pending {
			continue
		}
		m := e.Message
		present[m.ID] = true
		if t.printed[m.ID] {
			continue
		}
		t.printed[m.ID] = true

		stamp := "--:--"
		if !m.CreatedAt.IsZero() {
			stamp = m.CreatedAt.Local().Format("15:04")
		}
		name := m.UserName
		if e.Mine {
			name += " (you)"
		}
		t.printf("[%s] %s: %s  #%s", stamp, name, m.Content, m.ID)
	}
	for id := range t.printed {
		if !present[id] {
			delete(t.printed, id)
			t.printf("* message #%s was deleted", id)
		}
	}

	names := make([]string, 0)
	for _, ty := range t.view.Typing() {
		names = append(names, ty.UserName)
	}
	if typing := strings.Join(names, ", "); typing != t.typing {
		t.typing = typing
		if typing != "" {
			t.printf("… %s typing", typing)
		}
	}
}

// execute runs one input line. It reports true when the user asked to quit.
func (t *terminal) execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		t.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/delete":
		if arg == "" {
			t.printf("usage: /delete <id>")
			return false
		}
		if err := t.view.Delete(ctx, strings.TrimPrefix(arg, "#")); err != nil {
			t.printf("! could not delete: %s", t.view.Banner().Text)
		}

	case "/typing":
		if err := t.view.NotifyTyping(ctx); err != nil {
			t.printf("! %v", err)
		}

	case "/who":
		s := t.view.Session()
		t.printf("%s (%s) in group %d as %s", s.Name(), s.UserID, s.GroupID, s.Role)

	case "/state":
		t.printf("%s, %d messages, %d pending, socket %s (connection %d)",
			t.view.Phase(), len(t.view.Messages()), len(t.view.Pending()),
			t.socket.State(), t.socket.Generation())

	default:
		t.printf("unknown command %s\n%s", cmd, help)
	}
	return false
}

func (t *terminal) send(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := t.view.Send(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotConnected):
		t.printf("! not connected; your message was kept as a draft")
		t.view.SetDraft(text)
	default:
		t.printf("! %s", t.view.Banner().Text)
		if draft := t.view.Draft(); draft != "" {
			t.printf("  kept as draft: %s", draft)
		}
	}
}
