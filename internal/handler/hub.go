package handler

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/johndosdos/clubchat/internal/chat"
)

// Client is one open preview tab.
type Client struct {
	ID     uuid.UUID
	UserID string
	// Notify receives a value when the view changed since the last render.
	Notify chan struct{}
}

func NewClient(userID string) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Notify: make(chan struct{}, 1),
	}
}

type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Hub fans the view's change notifications out to every open tab.
type Hub struct {
	view       *chat.View
	clients    map[uuid.UUID]*Client
	Register   chan Registration
	Unregister chan *Client
	done       chan struct{}
}

func NewHub(v *chat.View) *Hub {
	return &Hub{
		view:       v,
		clients:    make(map[uuid.UUID]*Client),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run manages hub traffic until ctx is done or the view closes.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for id, c := range h.clients {
			delete(h.clients, id)
			close(c.Notify)
		}
		close(h.done)
	}()

	for {
		select {
		case reg := <-h.Register:
			c := reg.Client
			h.clients[c.ID] = c
			close(reg.Done)

		case c := <-h.Unregister:
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.Notify)
			}

		case <-h.view.Updates():
			for _, c := range h.clients {
				select {
				case c.Notify <- struct{}{}:
				default:
					// a render is already pending for this tab
				}
			}

		case <-h.view.Done():
			log.Printf("handler/hub: chat view closed")
			return

		case <-ctx.Done():
			return
		}
	}
}

// Join registers c. It reports false if the hub has stopped.
func (h *Hub) Join(c *Client) bool {
	reg := Registration{Client: c, Done: make(chan struct{})}
	select {
	case h.Register <- reg:
		<-reg.Done
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
