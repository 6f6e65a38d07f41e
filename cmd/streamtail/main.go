// Command streamtail prints the observation stream from a cursor, or with
// -channel, live messages from a pub/sub channel. It reads the same
// environment as stormwatch to find the store.
//
// Usage:
//
//	streamtail -from 0 -follow
//	streamtail -channel storm
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter"
	"github.com/couchcryptid/storm-alert-pipeline/internal/config"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

type options struct {
	from    stream.EntryID
	follow  bool
	limit   int
	channel stream.Channel
}

func main() {
	if err := run(); err != nil {
		slog.Error("streamtail failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	from := flag.String("from", "0", "entry ID to read after; 0 reads from the head")
	follow := flag.Bool("follow", false, "keep waiting for new entries")
	limit := flag.Int("limit", 0, "stop after this many entries (0 = no limit)")
	channel := flag.String("channel", "", "print messages from a channel (cow, storm, updates) instead of the stream")
	flag.Parse()

	var opts options
	var err error
	if opts.from, err = stream.ParseEntryID(*from); err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	if *channel != "" {
		if opts.channel, err = stream.ParseChannel(*channel); err != nil {
			return fmt.Errorf("-channel: %w", err)
		}
	}
	opts.follow = *follow
	opts.limit = *limit

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLoggerTo(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := adapter.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.channel != "" {
		err = listen(ctx, store, os.Stdout, opts)
	} else {
		err = tail(ctx, store, os.Stdout, opts)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// tail writes "<id>\t<payload>" for each entry after opts.from.
func tail(ctx context.Context, store stream.Store, w io.Writer, opts options) error {
	cursor := opts.from
	printed := 0
	for {
		entries, err := store.ReadFrom(ctx, stream.Observations, cursor, opts.follow)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", e.ID, e.Payload); err != nil {
				return err
			}
			cursor = e.ID
			printed++
			if opts.limit > 0 && printed >= opts.limit {
				return nil
			}
		}
	}
}

// listen writes "<channel>\t<payload>" for each message until ctx ends.
func listen(ctx context.Context, store stream.Store, w io.Writer, opts options) error {
	sub, err := store.Subscribe(ctx, opts.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	printed := 0
	for msg := range sub.Messages() {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", msg.Channel, msg.Payload); err != nil {
			return err
		}
		printed++
		if opts.limit > 0 && printed >= opts.limit {
			return nil
		}
	}
	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
