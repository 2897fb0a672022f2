package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/clubchat/internal"
	"github.com/johndosdos/clubchat/internal/chat"
)

// NewRouter serves the local preview of v. Every route runs as the view's
// session.
func NewRouter(v *chat.View, hub *Hub, title string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return internal.Middleware(next, v.Session())
	})

	r.Get("/", ServeChat(v, title))
	r.Get("/events", StreamSSE(hub, v))
	r.Route("/messages", func(r chi.Router) {
		r.Get("/", ServeMessages(v))
		r.Post("/", SendMessage(v))
		r.Post("/{id}/delete", DeleteMessage(v))
	})

	return r
}
