package chat

import (
	"sync"

	"github.com/johndosdos/clubchat/internal/model"
)

// Store is the ordered message list of one chat view. Messages keep the
// order in which they were appended; nothing is ever re-sorted. Ids are
// unique within the store.
//
// The owning View is the only writer. The lock is there so snapshots can be
// taken from other goroutines, e.g. for rendering.
type Store struct {
	mu    sync.RWMutex
	msgs  []model.Message
	index map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Append adds msg at the tail. It reports false, and leaves the store
// unchanged, when a message with the same id is already present.
func (s *Store) Append(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[msg.ID]; ok {
		return false
	}

	s.index[msg.ID] = len(s.msgs)
	s.msgs = append(s.msgs, msg)
	return true
}

// Remove deletes the message with the given id. Removing an absent id is a
// no-op that reports false.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}

	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.msgs); j++ {
		s.index[s.msgs[j].ID] = j
	}
	return true
}

// ReplaceAll makes msgs the new baseline, in the given order. Repeated ids
// keep their first occurrence.
func (s *Store) ReplaceAll(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]model.Message, 0, len(msgs))
	s.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, ok := s.index[m.ID]; ok {
			continue
		}
		s.index[m.ID] = len(s.msgs)
		s.msgs = append(s.msgs, m)
	}
}

func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.index[id]
	return ok
}

func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return s.msgs[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.msgs)
}

// Snapshot returns a copy of the messages in store order.
func (s *Store) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Message(nil), s.msgs...)
}
