package internal

import (
	"log"
	"net/http"
	"time"

	"github.com/johndosdos/clubchat/internal/session"
)

// Middleware attaches the chat session to every request. Once the session's
// token has expired, requests are refused: the backend would reject the
// token anyway.
func Middleware(next http.Handler, sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess == nil {
			log.Printf("middleware: no session configured")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if sess.Expired(time.Now()) {
			log.Printf("middleware: session for [%s] expired at %s", sess.UserID, sess.ExpiresAt.Format(time.RFC3339))
			http.Error(w, "Session expired", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(session.NewContext(r.Context(), sess))
		next.ServeHTTP(w, r)
	}
}
