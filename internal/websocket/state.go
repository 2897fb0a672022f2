package websocket

import "sync/atomic"

// State is where the connection manager is in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) load() State   { return State(s.v.Load()) }
func (s *stateValue) store(n State) { s.v.Store(int32(n)) }

// EventKind tells what an Event reports.
type EventKind int

const (
	// EventOpened: a connection was established. Generation identifies it.
	EventOpened EventKind = iota
	// EventMessage: a text frame arrived on connection Generation.
	EventMessage
	// EventClosed: connection Generation ended; Err is why.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is what the manager reports to its owner. Generation grows by one
// with every successful dial, so an owner can tell frames of a connection
// it already gave up on from frames of the current one.
type Event struct {
	Kind       EventKind
	Generation uint64
	Data       []byte
	Err        error
}
