// Command feedwatch follows one community feed in the terminal. Snapshots and
// notices are printed as they change; stdin lines post, vote and comment.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"discussify/internal/api"
	"discussify/internal/config"
	"discussify/internal/live"
	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/preview"
	"discussify/internal/session"

	"github.com/redis/go-redis/v9"
)

func main() {
	community := flag.String("community", "general", "Community to open")
	format := flag.String("format", "text", "Snapshot output format: text or yaml")
	flag.Parse()

	if *format != "text" && *format != "yaml" {
		log.Fatalf("unknown format %q", *format)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetLevel(cfg.LogLevel)
	// stdout belongs to the feed output
	observability.GlobalLogger = observability.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "discussify-feedwatch",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	client, err := api.NewClient(cfg.APIBaseURL,
		api.WithToken(cfg.APIToken),
		api.WithWriteRate(cfg.WriteRatePerSecond, 1),
	)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}

	channel, rdb, err := dialLive(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect live channel: %v", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	store, err := preview.NewStore(cfg.PreviewDir)
	if err != nil {
		log.Fatalf("Failed to create preview store: %v", err)
	}
	defer func() { _ = store.Close() }()

	opts := []session.Option{
		session.WithUser(models.Author{ID: cfg.UserID, Username: cfg.UserID}),
		session.WithRequestTimeout(cfg.RequestTimeout()),
		session.WithPreviews(store),
	}
	if rdb == nil {
		// /open after a dropped socket dials a fresh one
		opts = append(opts, session.WithDialer(func(ctx context.Context) (live.Channel, error) {
			return live.DialWS(ctx, cfg.WSURL, cfg.APIToken)
		}))
	}
	sess := session.New(client, channel, opts...)
	defer func() { _ = sess.Close() }()

	w := &watcher{
		sess: sess,
		out:  renderer{w: os.Stdout, format: *format, userID: cfg.UserID},
	}
	if err := w.open(ctx, *community); err != nil {
		log.Fatalf("Failed to open %s: %v", *community, err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	draft, err := sess.NewDraft()
	if err != nil {
		log.Fatalf("Failed to create draft: %v", err)
	}
	defer func() { _ = draft.Discard() }()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if cmd.kind == cmdQuit {
				return
			}
			if err := w.run(ctx, cmd, draft); err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", models.UserMessage(err, err.Error()))
			}
		}
	}
}

func dialLive(ctx context.Context, cfg *config.Config) (live.Channel, *redis.Client, error) {
	switch cfg.LiveTransport {
	case config.TransportRedis:
		rdb, err := live.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return live.NewRedisChannel(rdb), rdb, nil
	default:
		ch, err := live.DialWS(ctx, cfg.WSURL, cfg.APIToken)
		if err != nil {
			return nil, nil, err
		}
		return ch, nil, nil
	}
}

// watcher prints the active view and routes commands to it.
type watcher struct {
	sess *session.Session
	out  renderer

	mu   sync.Mutex
	view *session.View
}

func (w *watcher) open(ctx context.Context, communityID string) error {
	v, err := w.sess.Open(ctx, communityID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.view = v
	w.mu.Unlock()
	go w.follow(v)
	return nil
}

func (w *watcher) current() (*session.View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view == nil {
		return nil, session.ErrViewClosed
	}
	return w.view, nil
}

// follow renders v until it is torn down.
func (w *watcher) follow(v *session.View) {
	snapshots, notices := v.Snapshots(), v.Notices()
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				w.stopped(v)
				return
			}
			if err := w.out.snapshot(snap); err != nil {
				log.Printf("render: %v", err)
			}
		case n, ok := <-notices:
			if !ok {
				w.stopped(v)
				return
			}
			w.out.notice(n)
		case <-v.Done():
			w.stopped(v)
			return
		}
	}
}

func (w *watcher) stopped(v *session.View) {
	if err := v.LiveErr(); err != nil && !errors.Is(err, live.ErrClosed) {
		w.out.notice(session.Notice{Level: session.NoticeError, Message: "live updates stopped", Err: err})
	}
}

func (w *watcher) run(ctx context.Context, cmd command, draft *preview.Draft) error {
	switch cmd.kind {
	case cmdOpen:
		return w.open(ctx, cmd.arg)
	case cmdAttach:
		content, err := os.ReadFile(cmd.arg)
		if err != nil {
			return err
		}
		ref, err := draft.Add(cmd.arg, content)
		if err != nil {
			return err
		}
		fmt.Printf("attached %s as #%d (%s)\n", cmd.arg, draft.Len(), ref.URL())
		return nil
	case cmdDetach:
		return draft.Remove(cmd.index)
	}

	v, err := w.current()
	if err != nil {
		return err
	}
	switch cmd.kind {
	case cmdSubmit:
		_, err = v.Submit(cmd.text, draft)
	case cmdVote:
		err = v.ToggleVote(cmd.arg)
	case cmdComment:
		err = v.Comment(cmd.arg, cmd.text)
	case cmdRetry:
		err = v.Retry()
	}
	return err
}
