// Package pipeline supervises the long-lived loops of one process. A loop that
// fails because the stream store is unreachable is restarted with exponential
// backoff; any other failure stops the process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Pinger reports whether the stream store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunFunc is one long-lived loop. It returns nil once ctx is cancelled.
type RunFunc func(ctx context.Context) error

type loop struct {
	name string
	run  RunFunc
}

// Supervisor runs loops concurrently and restarts them after store outages.
type Supervisor struct {
	store   Pinger
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	loops []loop

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Supervisor. store may be nil when no loop depends on one.
func New(store Pinger, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		store:   store,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		running: make(map[string]bool),
	}
}

// Add registers a loop. It must be called before Run.
func (s *Supervisor) Add(name string, run RunFunc) {
	s.loops = append(s.loops, loop{name: name, run: run})
}

// Run starts every loop and blocks until ctx is cancelled or a loop fails
// with an error that is not a store outage. That error cancels the others.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error { return s.supervise(gctx, l) })
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, l loop) error {
	backoff := initialBackoff
	for {
		started := s.clock.Now()
		s.setRunning(l.name, true)
		s.logger.Info("loop started", "loop", l.name)
		err := l.run(ctx)
		s.setRunning(l.name, false)

		if ctx.Err() != nil {
			s.logger.Info("loop stopped", "loop", l.name)
			return nil
		}
		if err == nil {
			s.logger.Info("loop finished", "loop", l.name)
			return nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			s.logger.Error("loop failed", "loop", l.name, "error", err)
			return fmt.Errorf("%s: %w", l.name, err)
		}

		// A loop that ran for a while before failing starts over from the
		// initial delay.
		if s.clock.Since(started) > maxBackoff {
			backoff = initialBackoff
		}
		s.metrics.LoopRestarts.WithLabelValues(l.name).Inc()
		s.logger.Warn("stream store unavailable, restarting loop",
			"loop", l.name, "error", err, "backoff", backoff)
		if !sleepWithContext(ctx, s.clock, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (s *Supervisor) setRunning(name string, v bool) {
	s.mu.Lock()
	s.running[name] = v
	s.mu.Unlock()
	if v {
		s.metrics.LoopRunning.WithLabelValues(name).Set(1)
	} else {
		s.metrics.LoopRunning.WithLabelValues(name).Set(0)
	}
}

// CheckReadiness returns nil when the store answers and every registered loop
// is running, or an error naming the first problem found.
func (s *Supervisor) CheckReadiness(ctx context.Context) error {
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loops {
		if !s.running[l.name] {
			return fmt.Errorf("%s loop not running", l.name)
		}
	}
	return nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
