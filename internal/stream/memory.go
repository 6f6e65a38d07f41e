package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
)

const (
	defaultReadBatch      = 100
	subscriptionBufferLen = 64
)

var errClosed = errors.New("store closed")

// MemoryOptions tunes a MemoryStore.
type MemoryOptions struct {
	// MaxLen caps each stream, evicting the oldest entries. Zero means unbounded.
	MaxLen int
	// ReadBatch caps the number of entries one ReadFrom returns.
	ReadBatch int
	// Now supplies append times. Defaults to time.Now.
	Now func() time.Time
}

// MemoryStore is an in-process Store. It backs unit tests and single-binary
// development runs; entries do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	opts    MemoryOptions
	streams map[Name]*memStream
	subs    map[Channel]map[*memSubscription]struct{}
	closed  bool
}

type memStream struct {
	entries []Entry
	last    EntryID
	// notify is closed and replaced on every append to wake blocked readers.
	notify chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = defaultReadBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryStore{
		opts:    opts,
		streams: make(map[Name]*memStream),
		subs:    make(map[Channel]map[*memSubscription]struct{}),
	}
}

// stream returns the named stream, creating it. Caller holds mu for writing.
func (s *MemoryStore) stream(name Name) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{notify: make(chan struct{})}
		s.streams[name] = st
	}
	return st
}

func (s *MemoryStore) Append(_ context.Context, name Name, payload []byte) (EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return EntryID{}, domain.StoreUnavailable("append", errClosed)
	}

	st := s.stream(name)
	now := s.opts.Now()
	id := nextID(st.last, uint64(now.UnixMilli()))

	st.entries = append(st.entries, Entry{ID: id, Payload: clone(payload), Time: now})
	st.last = id
	if s.opts.MaxLen > 0 && len(st.entries) > s.opts.MaxLen {
		st.entries = append([]Entry(nil), st.entries[len(st.entries)-s.opts.MaxLen:]...)
	}

	close(st.notify)
	st.notify = make(chan struct{})
	return id, nil
}

// nextID mirrors Redis ID generation: the millisecond clock, with a sequence
// that breaks ties and keeps IDs increasing if the clock stalls or goes back.
func nextID(last EntryID, ms uint64) EntryID {
	if ms > last.Ms {
		return EntryID{Ms: ms}
	}
	return EntryID{Ms: last.Ms, Seq: last.Seq + 1}
}

func (s *MemoryStore) ReadFrom(ctx context.Context, name Name, cursor EntryID, block bool) ([]Entry, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, domain.StoreUnavailable("read", errClosed)
		}
		st := s.stream(name)
		entries := s.after(st, cursor)
		wait := st.notify
		s.mu.Unlock()

		if len(entries) > 0 || !block {
			return entries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (s *MemoryStore) Last(_ context.Context, name Name) (EntryID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return EntryID{}, domain.StoreUnavailable("last", errClosed)
	}
	if st, ok := s.streams[name]; ok {
		return st.last, nil
	}
	return Start, nil
}

// after copies up to ReadBatch entries with ID > cursor. Caller holds mu.
func (s *MemoryStore) after(st *memStream, cursor EntryID) []Entry {
	var out []Entry
	for _, e := range st.entries {
		if !cursor.Less(e.ID) {
			continue
		}
		out = append(out, Entry{ID: e.ID, Payload: clone(e.Payload), Time: e.Time})
		if len(out) == s.opts.ReadBatch {
			break
		}
	}
	return out
}

func (s *MemoryStore) Publish(_ context.Context, channel Channel, message []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.StoreUnavailable("publish", errClosed)
	}
	for sub := range s.subs[channel] {
		select {
		case sub.ch <- Message{Channel: channel, Payload: clone(message)}:
		default:
			// Subscriber is not keeping up; drop, as at-most-once allows.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channels ...Channel) (Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("subscribe: no channels")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.StoreUnavailable("subscribe", errClosed)
	}

	sub := &memSubscription{
		store:    s,
		channels: channels,
		ch:       make(chan Message, subscriptionBufferLen),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		if s.subs[c] == nil {
			s.subs[c] = make(map[*memSubscription]struct{})
		}
		s.subs[c][sub] = struct{}{}
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StoreUnavailable("ping", errClosed)
	}
	return nil
}

// Close ends every subscription with a StoreUnavailable error and fails
// subsequent calls.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var open []*memSubscription
	for _, set := range s.subs {
		for sub := range set {
			open = append(open, sub)
		}
	}
	for _, st := range s.streams {
		close(st.notify)
		st.notify = make(chan struct{})
	}
	s.mu.Unlock()

	for _, sub := range open {
		sub.terminate(domain.StoreUnavailable("subscribe", errClosed))
	}
	return nil
}

type memSubscription struct {
	store    *MemoryStore
	channels []Channel
	ch       chan Message
	done     chan struct{}
	once     sync.Once
	err      error
}

func (m *memSubscription) Messages() <-chan Message { return m.ch }

func (m *memSubscription) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

func (m *memSubscription) Close() error {
	m.terminate(nil)
	return nil
}

func (m *memSubscription) terminate(err error) {
	m.once.Do(func() {
		m.store.mu.Lock()
		for _, c := range m.channels {
			delete(m.store.subs[c], m)
		}
		m.err = err
		close(m.ch)
		close(m.done)
		m.store.mu.Unlock()
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
