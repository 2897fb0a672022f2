package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	viewChat "github.com/johndosdos/clubchat/components/chat"
	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/chat"
)

// ServeMessages renders the chat panel: banner, messages and typing line.
func ServeMessages(v *chat.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderPanel(w, r, v, http.StatusOK)
	}
}

// SendMessage posts the submitted form content through the view.
func SendMessage(v *chat.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseForm(); err != nil {
			slog.WarnContext(ctx, "invalid form data", "error", err)
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}

		content := r.FormValue("content")
		v.SetDraft(content)

		status := http.StatusOK
		if _, err := v.Send(ctx, content); err != nil {
			slog.WarnContext(ctx, "preview send failed", "error", err)
			switch {
			case errors.Is(err, chat.ErrEmptyMessage):
				status = http.StatusBadRequest
			case errors.Is(err, chat.ErrRateLimited):
				status = http.StatusTooManyRequests
			case errors.Is(err, chat.ErrNotConnected), errors.Is(err, chat.ErrViewClosed):
				status = http.StatusServiceUnavailable
			default:
				status = http.StatusBadGateway
			}
		}

		respond(w, r, v, status)
	}
}

// DeleteMessage asks the server to delete the message named in the path.
func DeleteMessage(v *chat.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		status := http.StatusOK
		if err := v.Delete(ctx, id); err != nil {
			slog.WarnContext(ctx, "preview delete failed", "message_id", id, "error", err)
			status = http.StatusBadGateway
			if code := api.StatusCode(err); code == http.StatusForbidden || code == http.StatusNotFound {
				status = code
			}
		}

		respond(w, r, v, status)
	}
}

// respond re-renders the panel for htmx requests and redirects plain form
// posts back to the page.
func respond(w http.ResponseWriter, r *http.Request, v *chat.View, status int) {
	if r.Header.Get("HX-Request") == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	renderPanel(w, r, v, status)
}

func renderPanel(w http.ResponseWriter, r *http.Request, v *chat.View, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := viewChat.ChatPanel(v).Render(r.Context(), w); err != nil {
		slog.ErrorContext(r.Context(), "failed to render chat panel", "error", err)
	}
}
