// Package mqtt forwards gateway events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// qos 1: at-least-once between us and the broker.
const qos = 1

// Options configures the broker connection.
type Options struct {
	Broker      string // e.g. tcp://mosquitto:1883
	ClientID    string
	TopicPrefix string
	// PublishTimeout bounds the wait for a broker acknowledgement.
	PublishTimeout time.Duration
}

// publisher is the subset of paho.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Sink publishes each event as JSON to <prefix>/<channel>. A publish failure
// drops that event; the relay keeps running.
type Sink struct {
	client  publisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func newSink(client publisher, prefix string, timeout time.Duration, logger *slog.Logger) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{client: client, prefix: strings.TrimRight(prefix, "/"), timeout: timeout, logger: logger}
}

// Topic returns the MQTT topic for a channel.
func Topic(prefix string, ch stream.Channel) string {
	if prefix == "" {
		return string(ch)
	}
	return prefix + "/" + string(ch)
}

// Send implements gateway.Sink.
func (s *Sink) Send(ctx context.Context, e gateway.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	topic := Topic(s.prefix, e.Channel)
	tok := s.client.Publish(topic, qos, false, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		s.logger.Warn("mqtt publish timed out, dropping event", "topic", topic)
		return nil
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		s.logger.Warn("mqtt publish failed, dropping event", "topic", topic, "error", err)
	}
	return nil
}

// Client owns the broker connection and its Sink.
type Client struct {
	client paho.Client
	sink   *Sink
	logger *slog.Logger
}

// Connect dials the broker. The client reconnects on its own after a lost
// connection; events published while disconnected are dropped.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	po := paho.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(5 * time.Second)
	po.SetMaxReconnectInterval(60 * time.Second)
	po.SetKeepAlive(30 * time.Second)
	po.SetPingTimeout(10 * time.Second)
	po.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("mqtt connected", "broker", opts.Broker)
	})
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := paho.NewClient(po)
	tok := client.Connect()

	const poll = 200 * time.Millisecond
	for !tok.WaitTimeout(poll) {
		if ctx.Err() != nil {
			client.Disconnect(0)
			return nil, ctx.Err()
		}
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}

	return &Client{
		client: client,
		sink:   newSink(client, opts.TopicPrefix, opts.PublishTimeout, logger),
		logger: logger,
	}, nil
}

// Sink returns the event sink backed by this connection.
func (c *Client) Sink() *Sink { return c.sink }

// Close disconnects, giving in-flight publishes a moment to finish.
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("mqtt disconnected")
}
