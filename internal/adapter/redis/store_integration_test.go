//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couchcryptid/storm-alert-pipeline/internal/checkpoint"
	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStore_StreamRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := Open(ctx, startRedis(ctx, t), Options{BlockTimeout: 200 * time.Millisecond}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	last, err := s.Last(ctx, stream.Observations)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	first, err := s.Append(ctx, stream.Observations, []byte(`{"station":"KPDX"}`))
	require.NoError(t, err)
	second, err := s.Append(ctx, stream.Observations, []byte(`{"station":"KSEA"}`))
	require.NoError(t, err)
	assert.True(t, first.Less(second))

	entries, err := s.ReadFrom(ctx, stream.Observations, stream.Start, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.JSONEq(t, `{"station":"KPDX"}`, string(entries[0].Payload))

	rest, err := s.ReadFrom(ctx, stream.Observations, first, false)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, second, rest[0].ID)

	last, err = s.Last(ctx, stream.Observations)
	require.NoError(t, err)
	assert.Equal(t, second, last)

	// A blocking read spans several block slices before the append arrives.
	got := make(chan []stream.Entry, 1)
	go func() {
		e, _ := s.ReadFrom(ctx, stream.Observations, second, true)
		got <- e
	}()
	time.Sleep(500 * time.Millisecond)
	third, err := s.Append(ctx, stream.Observations, []byte(`{"station":"KBOI"}`))
	require.NoError(t, err)
	select {
	case e := <-got:
		require.Len(t, e, 1)
		assert.Equal(t, third, e[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("blocking read did not wake")
	}

	// Cancellation ends a blocking read with the context error.
	readCtx, readCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer readCancel()
	_, err = s.ReadFrom(readCtx, stream.Observations, third, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisStore_PubSub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := Open(ctx, startRedis(ctx, t), Options{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Published before anyone listens: lost.
	require.NoError(t, s.Publish(ctx, stream.CowAlerts, []byte("early")))

	sub, err := s.Subscribe(ctx, stream.CowAlerts, stream.StormAlerts)
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, stream.ObservationUpdates, []byte("not subscribed")))
	require.NoError(t, s.Publish(ctx, stream.StormAlerts, []byte("storm")))
	require.NoError(t, s.Publish(ctx, stream.CowAlerts, []byte("cow")))

	var got []string
	for len(got) < 2 {
		select {
		case m := <-sub.Messages():
			got = append(got, fmt.Sprintf("%s|%s", m.Channel, m.Payload))
		case <-time.After(5 * time.Second):
			t.Fatalf("received %v", got)
		}
	}
	assert.Equal(t, []string{"storm-alert|storm", "cow-alert|cow"}, got)

	require.NoError(t, sub.Close())
	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("messages not closed after Close")
	}
	assert.NoError(t, sub.Err())
}

func TestRedisStore_SubscriptionFailsWhenClientCloses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := Open(ctx, startRedis(ctx, t), Options{}, discardLogger())
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, stream.CowAlerts)
	require.NoError(t, err)
	require.NoError(t, s.Client().ClientKillByFilter(ctx, "TYPE", "pubsub").Err())

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("subscription survived a killed connection")
	}
	assert.ErrorIs(t, sub.Err(), domain.ErrStoreUnavailable)
	_ = s.Close()
}

func TestRedisCheckpoints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := Open(ctx, startRedis(ctx, t), Options{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cps := checkpoint.NewRedis(s.Client())
	_, ok, err := cps.Load(ctx, "detector")
	require.NoError(t, err)
	assert.False(t, ok)

	want := stream.EntryID{Ms: 1700000000000, Seq: 2}
	require.NoError(t, cps.Save(ctx, "detector", want))
	got, ok, err := cps.Load(ctx, "detector")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
