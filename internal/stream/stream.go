// Package stream defines the substrate the pipeline runs on: an append-only,
// per-topic ordered log with consumer-driven replay, plus an ephemeral
// publish/subscribe broadcast.
//
// # Delivery Semantics
//
// The two halves differ:
//
//	Stream reads   at-least-once per consumer. The store never tracks consumer
//	               positions; a consumer that stops between reading an entry and
//	               saving its cursor re-reads that entry on restart. Consumers
//	               must tolerate duplicates.
//	Pub/sub        at-most-once, no replay. A subscriber sees only messages
//	               published while it is subscribed, and a slow or disconnected
//	               subscriber may silently miss messages. Consumers must accept
//	               drops.
//
// Every transport failure surfaces as an error wrapping
// [domain.ErrStoreUnavailable].
package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Name identifies a persisted stream.
type Name string

// Channel identifies an ephemeral broadcast topic.
type Channel string

const (
	// Observations holds every canonical Reading appended by the collector.
	Observations Name = "weather-observations"

	// ObservationUpdates carries each new Reading to live dashboards.
	ObservationUpdates Channel = "weather-observations-update"
	// CowAlerts carries high-wind notifications.
	CowAlerts Channel = "cow-alert"
	// StormAlerts carries rapid pressure drop notifications.
	StormAlerts Channel = "storm-alert"
)

// Channels lists every known channel.
var Channels = []Channel{ObservationUpdates, CowAlerts, StormAlerts}

// ParseChannel accepts a full channel name or its short form ("cow", "storm", "updates").
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CowAlerts), "cow", "cows":
		return CowAlerts, nil
	case string(StormAlerts), "storm":
		return StormAlerts, nil
	case string(ObservationUpdates), "updates", "weather":
		return ObservationUpdates, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// EntryID is an opaque, totally ordered stream position assigned at append
// time. It renders as "<ms>-<seq>", the same shape Redis uses, so IDs round-trip
// through every backend and through client query strings.
type EntryID struct {
	Ms  uint64
	Seq uint64
}

// Start is the zero cursor: reading from it returns the whole stream.
var Start = EntryID{}

// Less reports whether id sorts before other.
func (id EntryID) Less(other EntryID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// IsZero reports whether id is the start cursor.
func (id EntryID) IsZero() bool { return id == Start }

func (id EntryID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// ParseEntryID parses "<ms>-<seq>" or a bare "<ms>" (sequence 0), so "0" is the
// start of the stream.
func ParseEntryID(s string) (EntryID, error) {
	s = strings.TrimSpace(s)
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("invalid entry id %q", s)
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return EntryID{}, fmt.Errorf("invalid entry id %q", s)
		}
	}
	return EntryID{Ms: ms, Seq: seq}, nil
}

// Entry is one persisted stream record.
type Entry struct {
	ID      EntryID
	Payload []byte
	Time    time.Time // append time as recorded by the store
}

// Message is one broadcast notification.
type Message struct {
	Channel Channel
	Payload []byte
}

// Subscription is a live, lazily consumed sequence of messages.
type Subscription interface {
	// Messages yields messages in publish order per channel. It is closed when
	// the subscription is cancelled or the transport fails.
	Messages() <-chan Message
	// Err reports why Messages was closed: nil after cancellation, an error
	// wrapping domain.ErrStoreUnavailable after a transport failure.
	Err() error
	// Close cancels the subscription. It is safe to call more than once.
	Close() error
}

// Store is the persistence and transport substrate shared by every component.
// Implementations are safe for concurrent use.
type Store interface {
	// Append adds payload to the stream and returns its ID, strictly greater
	// than every earlier ID in that stream.
	Append(ctx context.Context, stream Name, payload []byte) (EntryID, error)

	// ReadFrom returns entries with ID > cursor in order. When block is true and
	// nothing is available it waits until at least one entry exists or ctx is
	// done, in which case it returns ctx.Err().
	ReadFrom(ctx context.Context, stream Name, cursor EntryID, block bool) ([]Entry, error)

	// Last returns the ID of the newest entry, or Start when the stream is
	// empty. Reading from it yields only entries appended afterwards.
	Last(ctx context.Context, stream Name) (EntryID, error)

	// Publish broadcasts message to current subscribers of channel.
	Publish(ctx context.Context, channel Channel, message []byte) error

	// Subscribe starts receiving the given channels. The subscription is active
	// when Subscribe returns and ends when ctx is done or Close is called.
	Subscribe(ctx context.Context, channels ...Channel) (Subscription, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
