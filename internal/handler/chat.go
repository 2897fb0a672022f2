package handler

import (
	"log"
	"net/http"

	viewChat "github.com/johndosdos/clubchat/components/chat"
	"github.com/johndosdos/clubchat/internal/chat"
)

// ServeChat renders the full preview page.
func ServeChat(v *chat.View, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := viewChat.ChatLayout(title, v).Render(r.Context(), w); err != nil {
			log.Printf("handler/chat: failed to render page: %v", err)
		}
	}
}
