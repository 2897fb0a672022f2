package handler

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"time"

	viewChat "github.com/johndosdos/clubchat/components/chat"
	"github.com/johndosdos/clubchat/internal/chat"
	"github.com/johndosdos/clubchat/internal/session"
)

// StreamSSE pushes a freshly rendered chat panel as a "panel" event every
// time the view changes.
func StreamSSE(hub *Hub, v *chat.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, err := session.FromContext(ctx)
		if err != nil {
			log.Printf("%v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		if err := rc.Flush(); err != nil {
			log.Printf("%v", err)
			return
		}

		c := NewClient(sess.UserID)
		if !hub.Join(c) {
			return
		}
		defer hub.Leave(c)
		log.Printf("preview client [%s] connected", c.ID)

		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		// Send the current state first so a reconnecting tab catches up.
		if err := pushPanel(w, rc, r, v); err != nil {
			log.Printf("%v", err)
			return
		}

		for {
			select {
			case _, ok := <-c.Notify:
				if !ok {
					return
				}
				if err := pushPanel(w, rc, r, v); err != nil {
					log.Printf("%v", err)
					return
				}

			case <-ticker.C:
				fmt.Fprint(w, ": \n\n") //nolint:errcheck
				if err := rc.Flush(); err != nil {
					log.Printf("could not flush buffer to writer: %+v", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

func pushPanel(w http.ResponseWriter, rc *http.ResponseController, r *http.Request, v *chat.View) error {
	var dataBuf bytes.Buffer
	if err := viewChat.ChatPanel(v).Render(r.Context(), &dataBuf); err != nil {
		return fmt.Errorf("internal/handler: failed to render panel: %w", err)
	}

	data := bytes.ReplaceAll(dataBuf.Bytes(), []byte("\n"), []byte(" "))

	fmt.Fprint(w, "event: panel\n")      //nolint:errcheck
	fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck

	if err := rc.Flush(); err != nil {
		return fmt.Errorf("internal/handler: could not flush buffer to writer: %w", err)
	}
	return nil
}
