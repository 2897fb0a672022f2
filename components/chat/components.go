// Package chat holds the HTML components of the chat preview.
package chat

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"

	core "github.com/johndosdos/clubchat/internal/chat"
)

var sanitizer = bluemonday.StrictPolicy()

// clean strips any markup from user content, then escapes the remaining
// text exactly once.
func clean(s string) string {
	return templ.EscapeString(html.UnescapeString(sanitizer.Sanitize(s)))
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Bubble is one rendered message.
type Bubble struct {
	ID        string
	Username  string
	Content   string
	CreatedAt time.Time
	// SameUser hides the name when the previous bubble had the same author.
	SameUser  bool
	CanDelete bool
	Pending   bool
	State     core.PendingState
}

func bubbleMeta(b Bubble) string {
	var sb strings.Builder
	if !b.CreatedAt.IsZero() {
		sb.WriteString(`<time class="text-xs text-gray-400" datetime="`)
		sb.WriteString(b.CreatedAt.UTC().Format(time.RFC3339))
		sb.WriteString(`">`)
		sb.WriteString(b.CreatedAt.Local().Format("15:04"))
		sb.WriteString(`</time>`)
	}
	if b.Pending {
		fmt.Fprintf(&sb, `<span class="text-xs italic text-gray-400" data-pending="%s">%s</span>`, b.State, b.State)
	}
	return sb.String()
}

func deleteButton(b Bubble) string {
	if !b.CanDelete || b.ID == "" {
		return ""
	}
	action := templ.EscapeString("/messages/" + b.ID + "/delete")
	return `<form method="post" action="` + action + `" hx-post="` + action + `" hx-target="#chat-panel" hx-swap="outerHTML" class="inline">` +
		`<button type="submit" class="text-xs text-red-500" title="Delete message">Delete</button></form>`
}

// SenderBubble renders a message written by the viewer.
func SenderBubble(b Bubble) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		name := ""
		if !b.SameUser {
			name = `<span class="text-sm font-semibold">` + clean(b.Username) + `</span>`
		}
		return write(w,
			`<div class="flex justify-end" id="msg-`, templ.EscapeString(b.ID), `">`,
			`<div class="flex flex-col items-end">`, name,
			`<p class="rounded-lg bg-blue-500 px-3 py-2 text-white">`, clean(b.Content), `</p>`,
			`<div class="flex gap-2">`, bubbleMeta(b), deleteButton(b), `</div>`,
			`</div></div>`)
	})
}

// ReceiverBubble renders a message written by someone else.
func ReceiverBubble(b Bubble) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		name := ""
		if !b.SameUser {
			name = `<span class="text-sm font-semibold">` + clean(b.Username) + `</span>`
		}
		return write(w,
			`<div class="flex justify-start" id="msg-`, templ.EscapeString(b.ID), `">`,
			`<div class="flex flex-col items-start">`, name,
			`<p class="rounded-lg bg-gray-200 px-3 py-2">`, clean(b.Content), `</p>`,
			`<div class="flex gap-2">`, bubbleMeta(b), deleteButton(b), `</div>`,
			`</div></div>`)
	})
}

// MessageList renders entries in order, grouping consecutive messages of
// the same author.
func MessageList(entries []core.Entry) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w, `<div id="messages" class="flex flex-col gap-1">`); err != nil {
			return err
		}

		if len(entries) == 0 {
			if err := write(w, `<p class="text-center text-gray-400">No messages yet. Say hello!</p>`); err != nil {
				return err
			}
		}

		prev := ""
		for _, e := range entries {
			b := Bubble{
				ID:        e.Message.ID,
				Username:  e.Message.UserName,
				Content:   e.Message.Content,
				CreatedAt: e.Message.CreatedAt.Time,
				SameUser:  prev != "" && prev == e.Message.UserID,
				CanDelete: e.CanDelete,
				Pending:   e.Pending,
				State:     e.State,
			}
			prev = e.Message.UserID

			var comp templ.Component
			if e.Mine {
				comp = SenderBubble(b)
			} else {
				comp = ReceiverBubble(b)
			}
			if err := comp.Render(ctx, w); err != nil {
				return err
			}
		}

		return write(w, `</div>`)
	})
}

// TypingIndicator renders who is typing, or nothing.
func TypingIndicator(typers []core.Typer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(typers) == 0 {
			return write(w, `<div id="typing"></div>`)
		}

		names := make([]string, 0, len(typers))
		for _, t := range typers {
			names = append(names, clean(t.UserName))
		}

		verb := "is"
		if len(names) > 1 {
			verb = "are"
		}
		return write(w, `<div id="typing" class="text-sm italic text-gray-500">`,
			strings.Join(names, ", "), " ", verb, ` typing...</div>`)
	})
}

// Banner renders the connection or error notice above the list.
func Banner(b core.Banner) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		switch b.Kind {
		case core.BannerError:
			return write(w, `<div id="banner" role="alert" class="bg-red-100 px-3 py-2 text-red-700">`, clean(b.Text), `</div>`)
		case core.BannerConnection:
			return write(w, `<div id="banner" role="status" class="bg-yellow-100 px-3 py-2 text-yellow-800">`, clean(b.Text), `</div>`)
		default:
			return write(w, `<div id="banner"></div>`)
		}
	})
}

// ChatInput is the message form. Its value is the current draft.
func ChatInput(draft string, disabled bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		attr := ""
		if disabled {
			attr = " disabled"
		}
		return write(w,
			`<form id="chat-input" method="post" action="/messages" hx-post="/messages" hx-target="#chat-panel" hx-swap="outerHTML" class="flex gap-2">`,
			`<input type="text" name="content" autocomplete="off" placeholder="Type a message..." value="`, templ.EscapeString(draft), `"`, attr, `>`,
			`<button type="submit"`, attr, `>Send</button>`,
			`</form>`)
	})
}

// ChatPanel is everything that changes while the page is open, the input
// included: it is only enabled while the view is ready or sending.
func ChatPanel(v *core.View) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		phase := v.Phase()
		if err := write(w, `<section id="chat-panel" data-phase="`, phase.String(), `">`); err != nil {
			return err
		}
		canSend := phase == core.PhaseReady || phase == core.PhaseSending
		for _, c := range []templ.Component{
			Banner(v.Banner()),
			MessageList(v.Entries()),
			TypingIndicator(v.Typing()),
			ChatInput(v.Draft(), !canSend),
		} {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		return write(w, `</section>`)
	})
}

// ChatLayout is the full preview page. The panel is refreshed over SSE.
func ChatLayout(title string, v *core.View) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`,
			`<title>`, templ.EscapeString(title), `</title>`,
			`<script src="https://unpkg.com/htmx.org@2.0.4"></script>`,
			`<script src="https://unpkg.com/htmx-ext-sse@2.2.2/sse.js"></script>`,
			`</head><body class="mx-auto max-w-2xl">`,
			`<header><h1>`, templ.EscapeString(title), `</h1>`,
			`<p class="text-sm">Signed in as `, clean(v.Session().Name()), `</p></header>`,
			`<main hx-ext="sse" sse-connect="/events" sse-swap="panel" hx-swap="outerHTML" hx-target="#chat-panel">`,
		); err != nil {
			return err
		}
		if err := ChatPanel(v).Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</main></body></html>`)
	})
}
