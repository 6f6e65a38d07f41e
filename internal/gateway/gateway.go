// Package gateway relays stream and channel traffic to live subscribers. The
// relay loops are transport independent; WebSocket and MQTT transports supply
// a Sink.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// Event types sent to clients.
const (
	TypeWeatherUpdate = "weather_update"
	TypeCowAlert      = "COW_ALERT"
	TypeStormAlert    = "STORM_ALERT"
	TypeStreamClosed  = "stream_closed"
)

// Relay modes, used as the metrics label.
const (
	ModeUpdates = "updates"
	ModeReplay  = "replay"
	ModeAlerts  = "alerts"
)

// Event is one client-facing message.
type Event struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // stream entry ID, replay only
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Reason  string          `json:"reason,omitempty"`

	// Channel is the source channel. Transports may route on it.
	Channel stream.Channel `json:"-"`
}

// Sink delivers events to one client. Send returns an error wrapping
// domain.ErrClientDisconnected once the client is gone.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// Bridge runs relay loops against a shared store.
type Bridge struct {
	store   stream.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Bridge.
func New(store stream.Store, logger *slog.Logger, metrics *observability.Metrics) *Bridge {
	return &Bridge{store: store, logger: logger, metrics: metrics}
}

// RelayUpdates forwards every live reading as a weather_update event.
//
// All relay loops return nil when ctx is cancelled, an error wrapping
// domain.ErrClientDisconnected when the client goes away, and an error wrapping
// domain.ErrStoreUnavailable when the store fails.
func (b *Bridge) RelayUpdates(ctx context.Context, sink Sink) error {
	return b.relay(ctx, sink, ModeUpdates, []stream.Channel{stream.ObservationUpdates})
}

// RelayAlerts forwards cow and storm alerts from the given channels. With no
// channels it relays both.
func (b *Bridge) RelayAlerts(ctx context.Context, sink Sink, channels ...stream.Channel) error {
	if len(channels) == 0 {
		channels = []stream.Channel{stream.CowAlerts, stream.StormAlerts}
	}
	return b.relay(ctx, sink, ModeAlerts, channels)
}

// ReplayUpdates sends every reading after from, then keeps following the
// observation stream. Unlike the live feed nothing is missed while the client
// is connected, and a reconnecting client resumes from the last ID it saw.
func (b *Bridge) ReplayUpdates(ctx context.Context, sink Sink, from stream.EntryID) error {
	done := b.track(ModeReplay)
	defer done()

	cursor := from
	for {
		entries, err := b.store.ReadFrom(ctx, stream.Observations, cursor, true)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, e := range entries {
			cursor = e.ID
			if !json.Valid(e.Payload) {
				b.logger.Warn("skipping malformed entry", "entry_id", e.ID.String())
				continue
			}
			ev := Event{Type: TypeWeatherUpdate, ID: e.ID.String(), Data: e.Payload, Channel: stream.ObservationUpdates}
			if err := b.send(ctx, sink, ModeReplay, ev); err != nil {
				return b.finish(ctx, err)
			}
		}
	}
}

func (b *Bridge) relay(ctx context.Context, sink Sink, mode string, channels []stream.Channel) error {
	sub, err := b.store.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer sub.Close()

	done := b.track(mode)
	defer done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				if err := sub.Err(); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			}
			ev, ok := EventFor(msg)
			if !ok {
				b.logger.Warn("dropping unrelayable message", "channel", string(msg.Channel))
				continue
			}
			if err := b.send(ctx, sink, mode, ev); err != nil {
				return b.finish(ctx, err)
			}
		}
	}
}

func (b *Bridge) send(ctx context.Context, sink Sink, mode string, ev Event) error {
	if err := sink.Send(ctx, ev); err != nil {
		return err
	}
	b.metrics.EventsForwarded.WithLabelValues(mode).Inc()
	return nil
}

// finish classifies a send failure.
func (b *Bridge) finish(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, domain.ErrClientDisconnected) {
		b.logger.Debug("client disconnected", "error", err)
	}
	return err
}

func (b *Bridge) track(mode string) func() {
	g := b.metrics.GatewayConnections.WithLabelValues(mode)
	g.Inc()
	return g.Dec
}

// EventFor converts a channel message to its client event. ok is false for an
// update whose payload is not JSON.
func EventFor(msg stream.Message) (Event, bool) {
	switch msg.Channel {
	case stream.CowAlerts:
		return Event{Type: TypeCowAlert, Message: string(msg.Payload), Channel: msg.Channel}, true
	case stream.StormAlerts:
		return Event{Type: TypeStormAlert, Message: string(msg.Payload), Channel: msg.Channel}, true
	case stream.ObservationUpdates:
		if !json.Valid(msg.Payload) {
			return Event{}, false
		}
		return Event{Type: TypeWeatherUpdate, Data: msg.Payload, Channel: msg.Channel}, true
	default:
		return Event{}, false
	}
}

// ClosedEvent is the terminal notice sent before the server ends a connection.
func ClosedEvent(reason string) Event {
	return Event{Type: TypeStreamClosed, Reason: reason}
}
