package testutil

import (
	"context"
	"log"

	"github.com/coder/websocket"
)

// peer is one socket connected to the fake backend.
type peer struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

type registration struct {
	peer *peer
	done chan struct{}
}

// hub fans frames out to every connected peer. It owns the peer set; all
// access goes through its channels.
type hub struct {
	peers      map[*peer]struct{}
	register   chan registration
	unregister chan *peer
	broadcast  chan []byte
	kick       chan websocket.StatusCode
	count      chan chan int
}

func newHub() *hub {
	return &hub{
		peers:      make(map[*peer]struct{}),
		register:   make(chan registration),
		unregister: make(chan *peer),
		broadcast:  make(chan []byte, 64),
		kick:       make(chan websocket.StatusCode),
		count:      make(chan chan int),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case reg := <-h.register:
			h.peers[reg.peer] = struct{}{}
			close(reg.done)

		case p := <-h.unregister:
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				close(p.send)
			}

		case frame := <-h.broadcast:
			for p := range h.peers {
				select {
				case p.send <- frame:
				default:
					log.Println("testutil: skipping frame - peer channel full")
				}
			}

		case code := <-h.kick:
			for p := range h.peers {
				delete(h.peers, p)
				close(p.send)
				go p.conn.Close(code, "server going away")
			}

		case reply := <-h.count:
			reply <- len(h.peers)

		case <-ctx.Done():
			for p := range h.peers {
				delete(h.peers, p)
				close(p.send)
			}
			return
		}
	}
}
