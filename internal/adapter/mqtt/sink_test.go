package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	token func() paho.Token
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	f.mu.Unlock()
	if f.token != nil {
		return f.token()
	}
	return doneToken(nil)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTopic(t *testing.T) {
	assert.Equal(t, "stormwatch/cow-alert", Topic("stormwatch", stream.CowAlerts))
	assert.Equal(t, "ops/alerts/storm-alert", Topic("ops/alerts", stream.StormAlerts))
	assert.Equal(t, "storm-alert", Topic("", stream.StormAlerts))
}

func TestSink_PublishesEventJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := newSink(pub, "stormwatch/", time.Second, discard())

	ev := gateway.Event{Type: gateway.TypeStormAlert, Message: "STORM ALERT at KPDX! Pressure falling 5.0 mb/hour", Channel: stream.StormAlerts}
	require.NoError(t, sink.Send(context.Background(), ev))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "stormwatch/storm-alert", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)

	var got map[string]string
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	assert.Equal(t, "STORM_ALERT", got["type"])
	assert.Equal(t, ev.Message, got["message"])
}

func TestSink_PublishFailureIsDropped(t *testing.T) {
	pub := &fakePublisher{token: func() paho.Token { return doneToken(errors.New("not connected")) }}
	sink := newSink(pub, "stormwatch", time.Second, discard())

	err := sink.Send(context.Background(), gateway.Event{Type: gateway.TypeCowAlert, Channel: stream.CowAlerts})
	assert.NoError(t, err)
	assert.Len(t, pub.msgs, 1)
}

func TestSink_PublishTimeout(t *testing.T) {
	pub := &fakePublisher{token: func() paho.Token { return &fakeToken{done: make(chan struct{})} }}
	sink := newSink(pub, "stormwatch", 20*time.Millisecond, discard())

	start := time.Now()
	require.NoError(t, sink.Send(context.Background(), gateway.Event{Type: gateway.TypeCowAlert, Channel: stream.CowAlerts}))
	assert.Less(t, time.Since(start), time.Second)
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

func TestSink_RelaysAlertsFromBridge(t *testing.T) {
	store := stream.NewMemoryStore(stream.MemoryOptions{})
	bridge := gateway.New(store, discard(), observability.NewMetricsForTesting())
	pub := &fakePublisher{}
	sink := newSink(pub, "stormwatch", time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bridge.RelayAlerts(ctx, sink) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, store.Publish(ctx, stream.CowAlerts, []byte("COW ALERT at KSEA! Wind: 55mph")))
	require.NoError(t, store.Publish(ctx, stream.StormAlerts, []byte("STORM ALERT at KPDX! Pressure falling 5.0 mb/hour")))

	require.Eventually(t, func() bool { return len(pub.topics()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stormwatch/cow-alert", "stormwatch/storm-alert"}, pub.topics())

	cancel()
	assert.NoError(t, <-errCh)
}
