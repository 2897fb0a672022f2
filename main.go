// Package main is the clubchat terminal client.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/chat"
	"github.com/johndosdos/clubchat/internal/config"
	"github.com/johndosdos/clubchat/internal/handler"
	"github.com/johndosdos/clubchat/internal/logging"
	ratelimiter "github.com/johndosdos/clubchat/internal/rate_limiter"
	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, in *os.File, out io.Writer) error {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrMissingToken) {
		cfg.Token, err = promptToken(in, out)
	}
	if err != nil {
		return err
	}

	sink, closeSink, err := logging.Open(cfg.LogSink)
	if err != nil {
		return err
	}
	defer closeSink() //nolint:errcheck
	logger := logging.New(sink, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	sess, err := session.FromToken(cfg.Token)
	if err != nil {
		return err
	}
	if sess.Expired(time.Now()) {
		return fmt.Errorf("session expired at %s; sign in again", sess.ExpiresAt.Format(time.RFC3339))
	}

	client, err := api.New(cfg.APIURL, cfg.Token,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithLogger(logger))
	if err != nil {
		return err
	}

	profile, err := client.Me(ctx)
	switch {
	case api.IsUnauthorized(err):
		return fmt.Errorf("the server rejected the token: %w", err)
	case err != nil:
		logger.WarnContext(ctx, "could not load profile; using token claims", "error", err)
	default:
		sess = sess.WithProfile(profile)
	}

	conn := websocket.NewManager(websocket.Options{
		URL:   cfg.WSURL,
		Token: cfg.Token,
		Backoff: websocket.BackoffConfig{
			Base:          cfg.ReconnectBase,
			Max:           cfg.ReconnectMax,
			MaxAttempts:   cfg.ReconnectAttempts,
			JitterPercent: websocket.DefaultBackoff().JitterPercent,
		},
		DialTimeout: cfg.HTTPTimeout,
	}, logger)

	view := chat.New(sess, client, conn, logger, chat.Options{
		HistoryLimit:   cfg.HistoryLimit,
		PendingTimeout: cfg.PendingTimeout,
		SendLimiter:    ratelimiter.NewLimiter(cfg.SendRate, time.Minute),
	})

	hub := handler.NewHub(view)
	go hub.Run(ctx)

	var server *http.Server
	if cfg.PreviewAddr != "" {
		server = &http.Server{
			Addr:              cfg.PreviewAddr,
			Handler:           handler.NewRouter(view, hub, "Club chat"),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       30 * time.Second,
		}
		go func() {
			log.Printf("Preview available at http://%s", cfg.PreviewAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("preview server error: %v", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- view.Run(ctx) }()

	tty := newTerminal(view, conn, out)
	screen := handler.NewClient(sess.UserID)
	if hub.Join(screen) {
		go func() {
			for range screen.Notify {
				tty.refresh()
			}
		}()
	}

	fmt.Fprintf(out, "Signed in as %s. Type a message, or /quit.\n", sess.Name()) //nolint:errcheck

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	err = loop(ctx, tty, lines, runErr)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Println(err)
		}
	}
	if cerr := view.Close(); cerr != nil {
		log.Printf("failed to close chat: %v", cerr)
	}

	fmt.Fprintln(out, "Bye.") //nolint:errcheck
	return err
}

func loop(ctx context.Context, tty *terminal, lines <-chan string, runErr <-chan error) error {
	for {
		select {
		case line, ok := <-lines:
			if !ok || tty.execute(ctx, line) {
				return nil
			}

		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

// promptToken asks for the bearer token without echoing it.
func promptToken(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", config.ErrMissingToken
	}

	fmt.Fprint(out, "Access token: ") //nolint:errcheck
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out) //nolint:errcheck
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", config.ErrMissingToken
	}
	return token, nil
}
