package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter/noaa"
	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter/noaa/noaatest"
	"github.com/couchcryptid/storm-alert-pipeline/internal/checkpoint"
	"github.com/couchcryptid/storm-alert-pipeline/internal/collector"
	"github.com/couchcryptid/storm-alert-pipeline/internal/detector"
	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (s *recordingSink) Send(_ context.Context, e gateway.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Message)
	}
	return out
}

// runAlertScenario drives two collection cycles through the given store and
// checks the alerts that reach a gateway subscriber.
func runAlertScenario(ctx context.Context, t *testing.T, store stream.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	provider := noaatest.NewProvider()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	client := noaa.NewClient(noaa.Options{BaseURL: srv.URL, UserAgent: "stormwatch-test", Timeout: 5 * time.Second}, metrics, logger)
	coll := collector.New(store, client, collector.Options{Stations: []string{"KPDX", "KSEA"}}, logger, metrics)
	cursors := checkpoint.NewMemory()
	det := detector.New(store, cursors, detector.Options{}, logger, metrics)
	bridge := gateway.New(store, logger, metrics)

	sink := &recordingSink{}
	relayErr := make(chan error, 1)
	go func() { relayErr <- bridge.RelayAlerts(ctx, sink) }()
	detErr := make(chan error, 1)
	go func() { detErr <- det.Run(ctx) }()
	// Let the relay subscribe before anything is published.
	time.Sleep(500 * time.Millisecond)

	t0 := time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)
	provider.Set(noaatest.Observation{Station: "KPDX", Time: t0, PressureMb: noaatest.Value(1010), WindMph: noaatest.Value(10), Canonical: true})
	provider.Set(noaatest.Observation{Station: "KSEA", Time: t0, PressureMb: noaatest.Value(1012), WindMph: noaatest.Value(20), Canonical: true})
	require.NoError(t, coll.RunCycle(ctx))

	provider.Set(noaatest.Observation{Station: "KPDX", Time: t0.Add(time.Hour), PressureMb: noaatest.Value(1005), WindMph: noaatest.Value(10), Canonical: true})
	provider.Set(noaatest.Observation{Station: "KSEA", Time: t0.Add(time.Hour), PressureMb: noaatest.Value(1011), WindMph: noaatest.Value(60), Canonical: true})
	require.NoError(t, coll.RunCycle(ctx))

	want := []string{
		domain.CollectorCowMessage("KSEA", 60),
		domain.DetectorCowMessage("KSEA", 60),
		domain.StormMessage("KPDX", 5.0),
	}
	require.Eventually(t, func() bool { return len(sink.messages()) >= len(want) }, 30*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.ElementsMatch(t, want, sink.messages())

	entries, err := store.ReadFrom(ctx, stream.Observations, stream.Start, false)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.Eventually(t, func() bool {
		saved, ok, err := cursors.Load(ctx, "detector")
		return err == nil && ok && saved == entries[len(entries)-1].ID
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-detErr)
	assert.NoError(t, <-relayErr)
}
