package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStore_AppendIDsStrictlyIncrease(t *testing.T) {
	// A frozen clock forces every ID into the same millisecond.
	s := NewMemoryStore(MemoryOptions{Now: frozenClock(time.UnixMilli(1_700_000_000_000))})
	ctx := context.Background()

	var prev EntryID
	seen := map[EntryID]bool{}
	for i := 0; i < 50; i++ {
		id, err := s.Append(ctx, Observations, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		assert.True(t, prev.Less(id), "id %s should follow %s", id, prev)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		prev = id
	}
}

func TestMemoryStore_AppendClockGoesBackwards(t *testing.T) {
	times := []time.Time{time.UnixMilli(2000), time.UnixMilli(1000), time.UnixMilli(3000)}
	i := 0
	s := NewMemoryStore(MemoryOptions{Now: func() time.Time { t := times[i]; i++; return t }})
	ctx := context.Background()

	a, err := s.Append(ctx, Observations, []byte("a"))
	require.NoError(t, err)
	b, err := s.Append(ctx, Observations, []byte("b"))
	require.NoError(t, err)
	c, err := s.Append(ctx, Observations, []byte("c"))
	require.NoError(t, err)

	assert.Equal(t, EntryID{Ms: 2000}, a)
	assert.Equal(t, EntryID{Ms: 2000, Seq: 1}, b)
	assert.Equal(t, EntryID{Ms: 3000}, c)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{ReadBatch: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.Append(ctx, Observations, []byte("x"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	entries, err := s.ReadFrom(ctx, Observations, Start, false)
	require.NoError(t, err)
	require.Len(t, entries, 200)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].ID.Less(entries[i].ID))
	}
}

func TestMemoryStore_ReadFromCursor(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx := context.Background()

	first, _ := s.Append(ctx, Observations, []byte("1"))
	second, _ := s.Append(ctx, Observations, []byte("2"))

	all, err := s.ReadFrom(ctx, Observations, Start, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)
	assert.Equal(t, []byte("1"), all[0].Payload)

	rest, err := s.ReadFrom(ctx, Observations, first, false)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, second, rest[0].ID)

	none, err := s.ReadFrom(ctx, Observations, second, false)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Last(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx := context.Background()

	last, err := s.Last(ctx, Observations)
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "empty stream should report Start")

	_, _ = s.Append(ctx, Observations, []byte("old"))
	tail, _ := s.Append(ctx, Observations, []byte("older"))
	last, err = s.Last(ctx, Observations)
	require.NoError(t, err)
	assert.Equal(t, tail, last)

	fresh, _ := s.Append(ctx, Observations, []byte("new"))
	entries, err := s.ReadFrom(ctx, Observations, last, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fresh, entries[0].ID)
}

func TestMemoryStore_ReadBatchLimit(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{ReadBatch: 2})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, Observations, []byte("x"))
	}

	batch, err := s.ReadFrom(ctx, Observations, Start, false)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestMemoryStore_BlockingReadWakesOnAppend(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan []Entry, 1)
	go func() {
		entries, err := s.ReadFrom(ctx, Observations, Start, true)
		assert.NoError(t, err)
		got <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := s.Append(ctx, Observations, []byte("late"))
	require.NoError(t, err)

	select {
	case entries := <-got:
		require.Len(t, entries, 1)
		assert.Equal(t, []byte("late"), entries[0].Payload)
	case <-ctx.Done():
		t.Fatal("blocked read never returned")
	}
}

func TestMemoryStore_BlockingReadCancelled(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadFrom(ctx, Observations, Start, true)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled read did not return")
	}
}

func TestMemoryStore_MaxLenRetention(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{MaxLen: 3})
	ctx := context.Background()
	var ids []EntryID
	for i := 0; i < 5; i++ {
		id, _ := s.Append(ctx, Observations, []byte{byte('a' + i)})
		ids = append(ids, id)
	}

	entries, err := s.ReadFrom(ctx, Observations, Start, false)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)

	// IDs keep increasing after eviction.
	next, _ := s.Append(ctx, Observations, []byte("f"))
	assert.True(t, ids[4].Less(next))
}

func TestMemoryStore_ReplayIsAtLeastOnce(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = s.Append(ctx, Observations, []byte{byte('0' + i)})
	}

	// Consumer acknowledges the first two entries, then "crashes" after reading
	// the rest without advancing its cursor.
	first, _ := s.ReadFrom(ctx, Observations, Start, false)
	acked := first[1].ID

	replayed, err := s.ReadFrom(ctx, Observations, acked, false)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, first[2].ID, replayed[0].ID)
	assert.Equal(t, first[3].ID, replayed[1].ID)
}

func TestMemoryStore_PubSub(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx := context.Background()

	// Published before anyone listens: never delivered.
	require.NoError(t, s.Publish(ctx, CowAlerts, []byte("early")))

	sub, err := s.Subscribe(ctx, CowAlerts, StormAlerts)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, CowAlerts, []byte("one")))
	require.NoError(t, s.Publish(ctx, ObservationUpdates, []byte("other channel")))
	require.NoError(t, s.Publish(ctx, StormAlerts, []byte("two")))

	var got []Message
	for len(got) < 2 {
		select {
		case m := <-sub.Messages():
			got = append(got, m)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, Message{Channel: CowAlerts, Payload: []byte("one")}, got[0])
	assert.Equal(t, Message{Channel: StormAlerts, Payload: []byte("two")}, got[1])

	select {
	case m := <-sub.Messages():
		t.Fatalf("unexpected message %q", m.Payload)
	default:
	}
}

func TestMemoryStore_SubscriptionEndsOnContextCancel(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Subscribe(ctx, CowAlerts)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.NoError(t, sub.Err())
	assert.NoError(t, s.Publish(context.Background(), CowAlerts, []byte("after")))
}

func TestMemoryStore_CloseFailsSubscriptions(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, StormAlerts)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), domain.ErrStoreUnavailable)

	_, err = s.Append(ctx, Observations, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrStoreUnavailable)
}

func TestEntryID(t *testing.T) {
	id, err := ParseEntryID("1700000000000-3")
	require.NoError(t, err)
	assert.Equal(t, EntryID{Ms: 1700000000000, Seq: 3}, id)
	assert.Equal(t, "1700000000000-3", id.String())

	zero, err := ParseEntryID("0")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = ParseEntryID("abc")
	assert.Error(t, err)
	_, err = ParseEntryID("1-x")
	assert.Error(t, err)

	assert.True(t, EntryID{Ms: 1, Seq: 9}.Less(EntryID{Ms: 2}))
	assert.True(t, EntryID{Ms: 2, Seq: 0}.Less(EntryID{Ms: 2, Seq: 1}))
	assert.False(t, EntryID{Ms: 2, Seq: 1}.Less(EntryID{Ms: 2, Seq: 1}))
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("cow")
	require.NoError(t, err)
	assert.Equal(t, CowAlerts, c)

	c, err = ParseChannel("storm-alert")
	require.NoError(t, err)
	assert.Equal(t, StormAlerts, c)

	_, err = ParseChannel("hail")
	assert.Error(t, err)
}
