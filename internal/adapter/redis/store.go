// Package redis implements stream.Store on Redis Streams (XADD/XREAD) and
// Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// payloadField is the stream entry field holding the JSON payload.
const payloadField = "data"

const (
	defaultReadBatch      = 100
	subscriptionBufferLen = 64
)

// Options configures a Store.
type Options struct {
	// BlockTimeout bounds one server-side XREAD BLOCK. Blocking reads loop in
	// slices of this length until data arrives or ctx is done.
	BlockTimeout time.Duration
	// MaxLen trims each stream to roughly this many entries. Zero disables trimming.
	MaxLen int64
	// ReadBatch caps entries returned by one ReadFrom.
	ReadBatch int64
}

// Store is a Redis-backed stream.Store.
type Store struct {
	client *goredis.Client
	opts   Options
	logger *slog.Logger
}

// Open parses url, connects, and verifies the server responds.
func Open(ctx context.Context, url string, opts Options, logger *slog.Logger) (*Store, error) {
	ro, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// Cancelling a blocking read must also abandon the socket.
	ro.ContextTimeoutEnabled = true

	s := New(goredis.NewClient(ro), opts, logger)
	if err := s.Ping(ctx); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. The Store takes ownership of it.
func New(client *goredis.Client, opts Options, logger *slog.Logger) *Store {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = defaultReadBatch
	}
	return &Store{client: client, opts: opts, logger: logger}
}

// Client exposes the underlying client so cursor checkpoints can share the connection pool.
func (s *Store) Client() *goredis.Client { return s.client }

func (s *Store) Append(ctx context.Context, name stream.Name, payload []byte) (stream.EntryID, error) {
	args := &goredis.XAddArgs{
		Stream: string(name),
		Values: map[string]any{payloadField: payload},
	}
	if s.opts.MaxLen > 0 {
		args.MaxLen = s.opts.MaxLen
		args.Approx = true
	}
	raw, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return stream.EntryID{}, unavailable(ctx, "xadd", err)
	}
	id, err := stream.ParseEntryID(raw)
	if err != nil {
		return stream.EntryID{}, domain.StoreUnavailable("xadd", err)
	}
	return id, nil
}

func (s *Store) ReadFrom(ctx context.Context, name stream.Name, cursor stream.EntryID, block bool) ([]stream.Entry, error) {
	args := &goredis.XReadArgs{
		Streams: []string{string(name), cursor.String()},
		Count:   s.opts.ReadBatch,
		Block:   -1, // no BLOCK argument
	}
	if block {
		args.Block = s.opts.BlockTimeout
	}

	for {
		res, err := s.client.XRead(ctx, args).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			// Non-blocking read of an empty range, or a block slice timed out.
			if !block {
				return nil, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		case err != nil:
			return nil, unavailable(ctx, "xread", err)
		}
		return toEntries(res, s.logger), nil
	}
}

func (s *Store) Last(ctx context.Context, name stream.Name) (stream.EntryID, error) {
	msgs, err := s.client.XRevRangeN(ctx, string(name), "+", "-", 1).Result()
	if err != nil {
		return stream.EntryID{}, unavailable(ctx, "xrevrange", err)
	}
	if len(msgs) == 0 {
		return stream.Start, nil
	}
	id, err := stream.ParseEntryID(msgs[0].ID)
	if err != nil {
		return stream.EntryID{}, domain.StoreUnavailable("xrevrange", err)
	}
	return id, nil
}

func (s *Store) Publish(ctx context.Context, channel stream.Channel, message []byte) error {
	if err := s.client.Publish(ctx, string(channel), message).Err(); err != nil {
		return unavailable(ctx, "publish", err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channels ...stream.Channel) (stream.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("subscribe: no channels")
	}
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}

	ps := s.client.Subscribe(ctx, names...)
	// Wait for the server's confirmation so no message published after this
	// call returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable(ctx, "subscribe", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ps:     ps,
		cancel: cancel,
		ch:     make(chan stream.Message, subscriptionBufferLen),
	}
	go sub.closeOnDone(subCtx)
	go sub.pump(subCtx)
	return sub, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(ctx, "ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// toEntries converts XREAD results, skipping entries without a payload field.
func toEntries(res []goredis.XStream, logger *slog.Logger) []stream.Entry {
	var out []stream.Entry
	for _, xs := range res {
		for _, m := range xs.Messages {
			e, ok := toEntry(m)
			if !ok {
				logger.Warn("skipping stream entry without payload", "stream", xs.Stream, "entry_id", m.ID)
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func toEntry(m goredis.XMessage) (stream.Entry, bool) {
	id, err := stream.ParseEntryID(m.ID)
	if err != nil {
		return stream.Entry{}, false
	}
	var payload []byte
	switch v := m.Values[payloadField].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return stream.Entry{}, false
	}
	// Redis IDs lead with the append time in milliseconds.
	return stream.Entry{ID: id, Payload: payload, Time: time.UnixMilli(int64(id.Ms)).UTC()}, true
}

// unavailable wraps a client error, passing context errors through unchanged
// so callers can tell shutdown from failure.
func unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.StoreUnavailable(op, err)
}

type subscription struct {
	ps     *goredis.PubSub
	cancel context.CancelFunc
	ch     chan stream.Message

	mu  sync.Mutex
	err error
}

func (s *subscription) Messages() <-chan stream.Message { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.cancel()
	return nil
}

// closeOnDone unblocks a pending ReceiveMessage once the subscription ends.
func (s *subscription) closeOnDone(ctx context.Context) {
	<-ctx.Done()
	_ = s.ps.Close()
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.ch)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = domain.StoreUnavailable("receive", err)
				s.mu.Unlock()
				s.cancel()
			}
			return
		}
		select {
		case s.ch <- stream.Message{Channel: stream.Channel(msg.Channel), Payload: []byte(msg.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}
