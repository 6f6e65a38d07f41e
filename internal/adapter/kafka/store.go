// Package kafka implements stream.Store on Apache Kafka. Each stream and each
// channel is a single-partition topic; an entry ID is derived from the record
// offset, so IDs are assigned by the broker and are strictly increasing.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

const (
	partition           = 0
	defaultReadBatch    = 100
	defaultFetchMaxSize = 10 << 20
)

// Options configures a Store.
type Options struct {
	Brokers []string
	// BlockTimeout is the broker-side wait of one fetch in a blocking read.
	BlockTimeout time.Duration
	// ReadBatch caps entries returned by one ReadFrom.
	ReadBatch int
	// Timeout bounds each non-fetch request to the cluster.
	Timeout time.Duration
}

// fetcher is the fetch half of kafkago.Client.
type fetcher interface {
	Fetch(ctx context.Context, req *kafkago.FetchRequest) (*kafkago.FetchResponse, error)
}

// Store is a Kafka-backed stream.Store.
type Store struct {
	client  *kafkago.Client
	fetcher fetcher
	writer  *kafkago.Writer
	opts    Options
	logger  *slog.Logger
}

// Open connects to the brokers and makes sure every topic the pipeline uses exists.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	s := New(opts, logger)
	if err := s.ensureTopics(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New creates a Store without contacting the cluster.
func New(opts Options, logger *slog.Logger) *Store {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = defaultReadBatch
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	addr := kafkago.TCP(opts.Brokers...)
	client := &kafkago.Client{Addr: addr, Timeout: opts.Timeout}
	return &Store{
		client:  client,
		fetcher: client,
		// Channel messages carry their own topic; the writer only needs the cluster.
		writer: &kafkago.Writer{
			Addr:         addr,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		opts:   opts,
		logger: logger,
	}
}

func (s *Store) ensureTopics(ctx context.Context) error {
	topics := []kafkago.TopicConfig{{Topic: string(stream.Observations), NumPartitions: 1, ReplicationFactor: 1}}
	for _, c := range stream.Channels {
		topics = append(topics, kafkago.TopicConfig{Topic: string(c), NumPartitions: 1, ReplicationFactor: 1})
	}
	resp, err := s.client.CreateTopics(ctx, &kafkago.CreateTopicsRequest{Topics: topics})
	if err != nil {
		return unavailable(ctx, "create topics", err)
	}
	for topic, err := range resp.Errors {
		if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
			return domain.StoreUnavailable("create topic "+topic, err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, name stream.Name, payload []byte) (stream.EntryID, error) {
	resp, err := s.client.Produce(ctx, &kafkago.ProduceRequest{
		Topic:        string(name),
		Partition:    partition,
		RequiredAcks: kafkago.RequireAll,
		Records: kafkago.NewRecordReader(kafkago.Record{
			Time:  time.Now(),
			Value: kafkago.NewBytes(payload),
		}),
	})
	if err != nil {
		return stream.EntryID{}, unavailable(ctx, "produce", err)
	}
	if resp.Error != nil {
		return stream.EntryID{}, domain.StoreUnavailable("produce", resp.Error)
	}
	return idForOffset(resp.BaseOffset), nil
}

func (s *Store) ReadFrom(ctx context.Context, name stream.Name, cursor stream.EntryID, block bool) ([]stream.Entry, error) {
	offset := offsetAfter(cursor)
	maxWait := time.Duration(0)
	if block {
		maxWait = s.opts.BlockTimeout
	}

	for {
		resp, err := s.fetcher.Fetch(ctx, &kafkago.FetchRequest{
			Topic:     string(name),
			Partition: partition,
			Offset:    offset,
			MinBytes:  1,
			MaxBytes:  defaultFetchMaxSize,
			MaxWait:   maxWait,
		})
		if err != nil {
			return nil, unavailable(ctx, "fetch", err)
		}
		if errors.Is(resp.Error, kafkago.OffsetOutOfRange) {
			// Retention removed entries the cursor had not reached yet; resume at the oldest kept.
			if offset < resp.LogStartOffset {
				s.logger.Warn("cursor behind retained log, skipping ahead",
					"stream", string(name), "cursor", cursor.String(), "log_start_offset", resp.LogStartOffset)
				offset = resp.LogStartOffset
				continue
			}
			// The cursor is ahead of the log. The broker answers at once, so
			// wait out one block slice before asking again.
			s.logger.Warn("cursor ahead of log, waiting for it to catch up",
				"stream", string(name), "cursor", cursor.String(), "high_watermark", resp.HighWatermark)
			if !block {
				return nil, nil
			}
			if err := sleepWithContext(ctx, s.opts.BlockTimeout); err != nil {
				return nil, err
			}
			continue
		}
		if resp.Error != nil {
			return nil, domain.StoreUnavailable("fetch", resp.Error)
		}

		entries, err := readRecords(resp.Records, offset, s.opts.ReadBatch)
		if err != nil {
			return nil, unavailable(ctx, "fetch", err)
		}
		if len(entries) > 0 || !block {
			return entries, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) Last(ctx context.Context, name stream.Name) (stream.EntryID, error) {
	high, err := s.highWatermark(ctx, string(name))
	if err != nil {
		return stream.EntryID{}, err
	}
	if high == 0 {
		return stream.Start, nil
	}
	return idForOffset(high - 1), nil
}

func (s *Store) highWatermark(ctx context.Context, topic string) (int64, error) {
	resp, err := s.client.ListOffsets(ctx, &kafkago.ListOffsetsRequest{
		Topics: map[string][]kafkago.OffsetRequest{topic: {kafkago.LastOffsetOf(partition)}},
	})
	if err != nil {
		return 0, unavailable(ctx, "list offsets", err)
	}
	parts := resp.Topics[topic]
	if len(parts) == 0 {
		return 0, domain.StoreUnavailable("list offsets", fmt.Errorf("topic %s has no partitions", topic))
	}
	if parts[0].Error != nil {
		return 0, domain.StoreUnavailable("list offsets", parts[0].Error)
	}
	return parts[0].LastOffset, nil
}

func (s *Store) Publish(ctx context.Context, channel stream.Channel, message []byte) error {
	err := s.writer.WriteMessages(ctx, kafkago.Message{Topic: string(channel), Value: message})
	if err != nil {
		return unavailable(ctx, "publish", err)
	}
	return nil
}

// Subscribe starts one partition reader per channel at its current high
// watermark, so only messages published from now on are delivered.
func (s *Store) Subscribe(ctx context.Context, channels ...stream.Channel) (stream.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("subscribe: no channels")
	}

	readers := make([]*kafkago.Reader, 0, len(channels))
	closeAll := func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}
	for _, c := range channels {
		high, err := s.highWatermark(ctx, string(c))
		if err != nil {
			closeAll()
			return nil, err
		}
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:   s.opts.Brokers,
			Topic:     string(c),
			Partition: partition,
			MaxWait:   500 * time.Millisecond,
		})
		if err := r.SetOffset(high); err != nil {
			_ = r.Close()
			closeAll()
			return nil, domain.StoreUnavailable("subscribe", err)
		}
		readers = append(readers, r)
	}

	return newSubscription(ctx, readers), nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Metadata(ctx, &kafkago.MetadataRequest{Topics: []string{string(stream.Observations)}})
	if err != nil {
		return unavailable(ctx, "metadata", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.writer.Close()
}

// idForOffset maps a record offset to an entry ID. Seq is offset+1 so that the
// zero ID stays "before the first record".
func idForOffset(offset int64) stream.EntryID {
	return stream.EntryID{Seq: uint64(offset) + 1}
}

// offsetAfter is the first offset a reader positioned at cursor has not seen.
func offsetAfter(cursor stream.EntryID) int64 {
	return int64(cursor.Seq)
}

// readRecords drains a record batch, dropping records before from (brokers
// return whole batches) and stopping after limit entries.
func readRecords(records kafkago.RecordReader, from int64, limit int) ([]stream.Entry, error) {
	if records == nil {
		return nil, nil
	}
	var out []stream.Entry
	for len(out) < limit {
		rec, err := records.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if rec.Offset < from {
			continue
		}
		e, err := toEntry(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toEntry(rec *kafkago.Record) (stream.Entry, error) {
	var payload []byte
	if rec.Value != nil {
		b, err := io.ReadAll(rec.Value)
		if err != nil {
			return stream.Entry{}, fmt.Errorf("read record value: %w", err)
		}
		payload = b
	}
	return stream.Entry{ID: idForOffset(rec.Offset), Payload: payload, Time: rec.Time}, nil
}

// unavailable wraps a client error, passing context errors through unchanged.
func unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.StoreUnavailable(op, fmt.Errorf("timeout: %w", err))
	}
	return domain.StoreUnavailable(op, err)
}
