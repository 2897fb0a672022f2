// Command loadtest opens several chat views against a backend, has each send
// a batch of messages, and reports how many of them were confirmed and how
// many echoes every view received.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/clubchat/internal/api"
	"github.com/johndosdos/clubchat/internal/chat"
	"github.com/johndosdos/clubchat/internal/config"
	"github.com/johndosdos/clubchat/internal/logging"
	ratelimiter "github.com/johndosdos/clubchat/internal/rate_limiter"
	"github.com/johndosdos/clubchat/internal/session"
	"github.com/johndosdos/clubchat/internal/websocket"
)

type options struct {
	apiURL   string
	tokens   []string
	messages int
	interval time.Duration
	settle   time.Duration
	verbose  bool
}

// Result is what one simulated member saw.
type Result struct {
	UserID string
	Sent   int
	Failed int
	// Confirmed counts accepted sends that reached the member's own list.
	Confirmed int
	Received  int
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive a club chat backend with several concurrent members",
		Long: `loadtest connects one chat view per access token, sends the requested
number of messages from each, waits for the broadcasts to settle and prints
how many messages every member ended up seeing.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.tokens) == 0 {
				if tok := os.Getenv("CLUBCHAT_TOKENS"); tok != "" {
					opts.tokens = strings.Split(tok, ",")
				}
			}
			if len(opts.tokens) == 0 {
				return errors.New("at least one --token is required")
			}

			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			logger := logging.New(os.Stderr, level, "text")

			results, err := runLoad(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			report(out, results, opts.messages)
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	_ = godotenv.Load()
	def := os.Getenv("CLUBCHAT_API_URL")
	if def == "" {
		def = "http://localhost:8000"
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api", def, "backend base URL")
	flags.StringSliceVar(&opts.tokens, "token", nil, "access token of a member (repeatable)")
	flags.IntVarP(&opts.messages, "messages", "n", 10, "messages sent by each member")
	flags.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "pause between sends")
	flags.DurationVar(&opts.settle, "settle", 3*time.Second, "how long to wait for echoes after the last send")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func runLoad(ctx context.Context, opts options, logger *slog.Logger) ([]Result, error) {
	u, err := url.Parse(opts.apiURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid --api %q", opts.apiURL)
	}
	wsURL := config.SocketURL(u)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	views := make([]*chat.View, 0, len(opts.tokens))
	var runs sync.WaitGroup
	for _, token := range opts.tokens {
		token = strings.TrimSpace(token)
		sess, err := session.FromToken(token)
		if err != nil {
			return nil, err
		}
		client, err := api.New(opts.apiURL, token, api.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		conn := websocket.NewManager(websocket.Options{URL: wsURL, Token: token}, logger)
		v := chat.New(sess, client, conn, logger, chat.Options{
			HistoryLimit:   opts.messages*len(opts.tokens) + 50,
			PendingTimeout: time.Hour,
			SendLimiter:    ratelimiter.NewLimiter(0, 0),
		})
		views = append(views, v)

		runs.Add(1)
		go func() {
			defer runs.Done()
			if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("view stopped", "user_id", sess.UserID, "error", err)
			}
		}()
	}
	defer func() {
		cancel()
		runs.Wait()
	}()

	if err := waitReady(ctx, views, 10*time.Second); err != nil {
		return nil, err
	}

	// Only messages after the baseline count.
	baseline := make([]map[string]bool, len(views))
	for i, v := range views {
		baseline[i] = make(map[string]bool)
		for _, m := range v.Messages() {
			baseline[i][m.ID] = true
		}
	}

	results := make([]Result, len(views))
	sent := make([][]string, len(views))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range views {
		i, v := i, v
		results[i].UserID = v.Session().UserID
		pace := ratelimiter.NewLimiter(1, opts.interval)
		g.Go(func() error {
			for n := 0; n < opts.messages; n++ {
				if err := pace.Wait(gctx); err != nil {
					return err
				}

				text := fmt.Sprintf("loadtest %s #%d", v.Session().UserID, n)
				out, err := v.Send(gctx, text)
				if err != nil {
					results[i].Failed++
					logger.Warn("send failed", "user_id", v.Session().UserID, "error", err)
					continue
				}
				results[i].Sent++
				sent[i] = append(sent[i], out.Message.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	select {
	case <-time.After(opts.settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for i, v := range views {
		for _, id := range sent[i] {
			if _, ok := v.Message(id); ok {
				results[i].Confirmed++
			}
		}
		for _, m := range v.Messages() {
			if !baseline[i][m.ID] {
				results[i].Received++
			}
		}
	}
	return results, nil
}

func waitReady(ctx context.Context, views []*chat.View, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		ready := 0
		for _, v := range views {
			if v.Phase() == chat.PhaseReady {
				ready++
			}
		}
		if ready == len(views) {
			return nil
		}

		select {
		case <-tick.C:
		case <-deadline:
			return fmt.Errorf("only %d of %d members connected within %s", ready, len(views), timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func report(out io.Writer, results []Result, perMember int) {
	expected := 0
	for _, r := range results {
		expected += r.Sent
	}

	fmt.Fprintf(out, "%-38s %6s %6s %9s %9s %9s\n", "member", "sent", "failed", "confirmed", "received", "expected") //nolint:errcheck
	for _, r := range results {
		fmt.Fprintf(out, "%-38s %6d %6d %9d %9d %9d\n", r.UserID, r.Sent, r.Failed, r.Confirmed, r.Received, expected) //nolint:errcheck
	}
	fmt.Fprintf(out, "%d members x %d messages\n", len(results), perMember) //nolint:errcheck
}
