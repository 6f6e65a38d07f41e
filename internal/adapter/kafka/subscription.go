package kafka

import (
	"context"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

const subscriptionBufferLen = 64

// subscription merges one partition reader per channel.
type subscription struct {
	readers []*kafkago.Reader
	cancel  context.CancelFunc
	ch      chan stream.Message
	wg      sync.WaitGroup

	mu  sync.Mutex
	err error
}

func newSubscription(ctx context.Context, readers []*kafkago.Reader) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		readers: readers,
		cancel:  cancel,
		ch:      make(chan stream.Message, subscriptionBufferLen),
	}
	for _, r := range readers {
		s.wg.Add(1)
		go s.pump(ctx, r)
	}
	go func() {
		s.wg.Wait()
		for _, r := range s.readers {
			_ = r.Close()
		}
		close(s.ch)
	}()
	return s
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

func (s *subscription) pump(ctx context.Context, r *kafkago.Reader) {
	defer s.wg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(domain.StoreUnavailable("fetch "+r.Config().Topic, err))
			}
			return
		}
		select {
		case s.ch <- stream.Message{Channel: stream.Channel(msg.Topic), Payload: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}

// fail records the first error and ends the whole subscription.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}
