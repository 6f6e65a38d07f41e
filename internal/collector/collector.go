// Package collector polls the weather provider for every configured station,
// appends canonical readings to the observation stream, and raises inline cow
// alerts.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// Fetcher returns the raw latest observation document for a station.
type Fetcher interface {
	FetchLatest(ctx context.Context, station string) ([]byte, error)
}

// Options configures a Collector.
type Options struct {
	Stations      []string
	WindThreshold float64
	Interval      time.Duration
	// Clock drives the sleep between cycles. Defaults to the real clock.
	Clock clockwork.Clock
}

// Collector runs the poll, transform, append loop.
type Collector struct {
	store   stream.Store
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Collector.
func New(store stream.Store, fetcher Fetcher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.WindThreshold <= 0 {
		opts.WindThreshold = domain.DefaultWindSpeedThreshold
	}
	return &Collector{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Run repeats collection cycles until ctx is cancelled, returning nil, or a
// cycle fails on the store, returning that error.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("collector started", "stations", c.opts.Stations, "interval", c.opts.Interval)
	for {
		if err := c.RunCycle(ctx); err != nil && ctx.Err() == nil {
			return err
		}

		select {
		case <-ctx.Done():
			c.logger.Info("collector stopping", "reason", ctx.Err())
			return nil
		case <-c.opts.Clock.After(c.opts.Interval):
		}
	}
}

// RunCycle collects every station once, in configured order. A failed fetch
// skips that station; a store failure aborts the cycle.
func (c *Collector) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		c.metrics.CollectorCycleDuration.Observe(time.Since(start).Seconds())
	}()

	for _, station := range c.opts.Stations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.collect(ctx, station); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) collect(ctx context.Context, station string) error {
	body, err := c.fetcher.FetchLatest(ctx, station)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("fetch failed, skipping station", "station", station, "error", err)
		c.metrics.FetchErrors.WithLabelValues(station).Inc()
		return nil
	}

	reading, err := domain.ParseObservation(body)
	if err != nil {
		c.logger.Warn("unparseable observation, skipping station", "station", station,
			"error", domain.FetchFailed(station, err))
		c.metrics.FetchErrors.WithLabelValues(station).Inc()
		return nil
	}
	if reading.Station == "" {
		reading.Station = station
	}

	payload, err := domain.EncodeReading(reading)
	if err != nil {
		c.logger.Warn("unencodable reading, skipping station", "station", station, "error", err)
		c.metrics.FetchErrors.WithLabelValues(station).Inc()
		return nil
	}
	id, err := c.store.Append(ctx, stream.Observations, payload)
	if err != nil {
		return err
	}
	c.metrics.ReadingsCollected.WithLabelValues(reading.Station).Inc()
	c.logger.Debug("reading appended", "station", reading.Station, "entry_id", id.String())

	if err := c.store.Publish(ctx, stream.ObservationUpdates, payload); err != nil {
		return err
	}

	if domain.ExceedsWind(reading, c.opts.WindThreshold) {
		msg := domain.CollectorCowMessage(reading.Station, *reading.WindSpeed)
		if err := c.store.Publish(ctx, stream.CowAlerts, []byte(msg)); err != nil {
			return err
		}
		c.metrics.AlertsPublished.WithLabelValues(string(stream.CowAlerts), "collector").Inc()
		c.logger.Info("cow alert published", "station", reading.Station, "wind_speed", *reading.WindSpeed)
	}
	return nil
}
