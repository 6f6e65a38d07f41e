package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

func TestAlertPipeline_MemoryStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := stream.NewMemoryStore(stream.MemoryOptions{})
	t.Cleanup(func() { _ = store.Close() })

	runAlertScenario(ctx, t, store)
}
