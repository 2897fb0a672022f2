package chat

import (
	"sort"
	"time"
)

// Typer is someone who recently reported typing.
type Typer struct {
	UserID   string
	UserName string
}

type typing struct {
	name  string
	until time.Time
}

// presence is guarded by the owning View's mutex.
type presence struct {
	ttl  time.Duration
	seen map[string]typing
}

func newPresence(ttl time.Duration) *presence {
	return &presence{ttl: ttl, seen: make(map[string]typing)}
}

func (p *presence) touch(userID, name string, now time.Time) {
	if name == "" {
		name = userID
	}
	p.seen[userID] = typing{name: name, until: now.Add(p.ttl)}
}

func (p *presence) forget(userID string) {
	delete(p.seen, userID)
}

func (p *presence) reset() {
	clear(p.seen)
}

// expire drops stale entries and reports whether any were dropped.
func (p *presence) expire(now time.Time) bool {
	changed := false
	for id, t := range p.seen {
		if !now.Before(t.until) {
			delete(p.seen, id)
			changed = true
		}
	}
	return changed
}

func (p *presence) list() []Typer {
	out := make([]Typer, 0, len(p.seen))
	for id, t := range p.seen {
		out = append(out, Typer{UserID: id, UserName: t.name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName == out[j].UserName {
			return out[i].UserID < out[j].UserID
		}
		return out[i].UserName < out[j].UserName
	})
	return out
}
