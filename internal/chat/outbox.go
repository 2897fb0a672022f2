package chat

import (
	"time"

	"github.com/google/uuid"
)

type PendingState int

const (
	// PendingSending is a send whose request has not returned yet.
	PendingSending PendingState = iota
	// PendingSent was accepted by the server; its echo has not arrived.
	PendingSent
)

func (s PendingState) String() string {
	if s == PendingSent {
		return "sent"
	}
	return "sending"
}

// Pending is a provisional entry for a message the user sent. It lives
// outside the Store and is shown after the confirmed messages until the
// server's echo takes its place.
type Pending struct {
	ClientID uuid.UUID
	Content  string
	State    PendingState
	ServerID string
	QueuedAt time.Time
	SentAt   time.Time
}

// outbox is guarded by the owning View's mutex.
type outbox struct {
	items []*Pending
}

func (o *outbox) add(content string, now time.Time) Pending {
	p := &Pending{
		ClientID: uuid.New(),
		Content:  content,
		State:    PendingSending,
		QueuedAt: now,
	}
	o.items = append(o.items, p)
	return *p
}

func (o *outbox) find(id uuid.UUID) int {
	for i, p := range o.items {
		if p.ClientID == id {
			return i
		}
	}
	return -1
}

func (o *outbox) remove(id uuid.UUID) bool {
	i := o.find(id)
	if i < 0 {
		return false
	}
	o.items = append(o.items[:i], o.items[i+1:]...)
	return true
}

func (o *outbox) markSent(id uuid.UUID, serverID string, now time.Time) bool {
	i := o.find(id)
	if i < 0 {
		return false
	}
	o.items[i].State = PendingSent
	o.items[i].ServerID = serverID
	o.items[i].SentAt = now
	return true
}

// reconcile drops the sent entry the server echoed back as serverID.
func (o *outbox) reconcile(serverID string) bool {
	for i, p := range o.items {
		if p.State == PendingSent && p.ServerID == serverID {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return true
		}
	}
	return false
}

// overdue reports whether any sent entry has waited longer than timeout
// for its echo.
func (o *outbox) overdue(now time.Time, timeout time.Duration) bool {
	for _, p := range o.items {
		if p.State == PendingSent && now.Sub(p.SentAt) >= timeout {
			return true
		}
	}
	return false
}

// settle runs after a fresh baseline was loaded. Sent entries are dropped
// when the baseline has them, or when they are overdue and the server no
// longer lists them.
func (o *outbox) settle(s *Store, now time.Time, timeout time.Duration) int {
	kept := o.items[:0]
	dropped := 0
	for _, p := range o.items {
		if p.State == PendingSent && (s.Has(p.ServerID) || now.Sub(p.SentAt) >= timeout) {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	o.items = kept
	return dropped
}

func (o *outbox) sending() int {
	n := 0
	for _, p := range o.items {
		if p.State == PendingSending {
			n++
		}
	}
	return n
}

func (o *outbox) snapshot() []Pending {
	out := make([]Pending, 0, len(o.items))
	for _, p := range o.items {
		out = append(out, *p)
	}
	return out
}
