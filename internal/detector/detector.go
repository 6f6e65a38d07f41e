// Package detector consumes the observation stream and raises storm alerts for
// rapid barometric pressure drops, plus its own cow alerts for high wind.
//
// Each station keeps a bounded pressure history. The fall rate is measured
// against the newest retained sample; the first sample of a station, and any
// sample not newer than the one before it, never alerts. The consumer cursor
// is saved after every processed batch, so a restart replays at most the batch
// in flight and alerts may repeat.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/checkpoint"
	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// StartTail begins at the current end of the stream instead of its head.
const StartTail = "$"

// Options configures a Detector.
type Options struct {
	WindThreshold         float64 // mph
	PressureDropThreshold float64 // mb/hour
	HistorySize           int
	HistoryWindow         time.Duration
	// Start is used when no checkpoint exists: "0" for the stream head,
	// StartTail for new entries only, or an explicit entry ID.
	Start string
	// CheckpointName keys the saved cursor. Defaults to "detector".
	CheckpointName string
}

// Detector is a single-goroutine stream consumer. Run must not be called
// concurrently.
type Detector struct {
	store       stream.Store
	checkpoints checkpoint.Store
	opts        Options
	logger      *slog.Logger
	metrics     *observability.Metrics

	cursor   stream.EntryID
	resolved bool
	history  map[string]*History
}

// New creates a Detector. A nil checkpoint store disables cursor persistence.
func New(store stream.Store, checkpoints checkpoint.Store, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	if checkpoints == nil {
		checkpoints = checkpoint.Nop{}
	}
	if opts.WindThreshold <= 0 {
		opts.WindThreshold = domain.DefaultWindSpeedThreshold
	}
	if opts.PressureDropThreshold <= 0 {
		opts.PressureDropThreshold = domain.DefaultPressureDropThreshold
	}
	if opts.HistorySize < 2 {
		opts.HistorySize = 12
	}
	if opts.Start == "" {
		opts.Start = "0"
	}
	if opts.CheckpointName == "" {
		opts.CheckpointName = "detector"
	}
	return &Detector{
		store:       store,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
		history:     make(map[string]*History),
	}
}

// Cursor returns the ID of the last fully processed entry.
func (d *Detector) Cursor() stream.EntryID { return d.cursor }

// Run consumes the stream until ctx is cancelled, returning nil, or the store
// fails, returning that error. The cursor and pressure history survive a
// subsequent Run on the same Detector.
func (d *Detector) Run(ctx context.Context) error {
	if err := d.resolveCursor(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	d.logger.Info("detector started", "cursor", d.cursor.String())

	for {
		entries, err := d.store.ReadFrom(ctx, stream.Observations, d.cursor, true)
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("detector stopping", "reason", ctx.Err(), "cursor", d.cursor.String())
				return nil
			}
			return err
		}
		if err := d.ProcessBatch(ctx, entries); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// ProcessBatch evaluates entries in order, then saves the cursor. It stops at
// the first store failure, leaving the cursor on the last entry that finished.
func (d *Detector) ProcessBatch(ctx context.Context, entries []stream.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	start := d.cursor
	for _, e := range entries {
		if err := d.Process(ctx, e); err != nil {
			d.save(ctx, start)
			return err
		}
		d.cursor = e.ID
	}
	d.save(ctx, start)
	return nil
}

func (d *Detector) save(ctx context.Context, before stream.EntryID) {
	if d.cursor == before {
		return
	}
	if err := d.checkpoints.Save(ctx, d.opts.CheckpointName, d.cursor); err != nil {
		// The in-memory cursor still advances; a restart replays from the last saved one.
		d.logger.Warn("save cursor failed", "error", err, "cursor", d.cursor.String())
	}
}

// Process evaluates one entry. Only store failures are returned; undecodable
// entries are logged and skipped.
func (d *Detector) Process(ctx context.Context, e stream.Entry) error {
	r, err := domain.DecodeReading(e.Payload)
	if err != nil {
		d.logger.Warn("skipping malformed entry", "entry_id", e.ID.String(), "error", err)
		d.metrics.MalformedEntries.Inc()
		return nil
	}
	d.metrics.EntriesProcessed.Inc()

	if domain.ExceedsWind(r, d.opts.WindThreshold) {
		msg := domain.DetectorCowMessage(r.Station, *r.WindSpeed)
		if err := d.publish(ctx, stream.CowAlerts, msg); err != nil {
			return err
		}
	}

	if r.Pressure == nil {
		return nil
	}
	at, ok := r.ObservedAt()
	if !ok {
		at = e.Time
	}
	return d.evaluatePressure(ctx, e.ID, r.Station, Sample{At: at, Pressure: *r.Pressure})
}

func (d *Detector) evaluatePressure(ctx context.Context, id stream.EntryID, station string, s Sample) error {
	h, ok := d.history[station]
	if !ok {
		h = NewHistory(d.opts.HistorySize, d.opts.HistoryWindow)
		d.history[station] = h
	}

	prev, ok := h.Latest()
	if !ok {
		h.Add(s)
		return nil
	}
	if !s.At.After(prev.At) {
		d.logger.Debug("ignoring sample not newer than history", "station", station, "entry_id", id.String(),
			"observed_at", s.At, "latest", prev.At)
		return nil
	}

	rate, _ := domain.PressureDropRate(prev.Pressure, s.Pressure, s.At.Sub(prev.At))
	d.metrics.PressureDropRate.WithLabelValues(station).Set(rate)
	if rate > d.opts.PressureDropThreshold {
		if err := d.publish(ctx, stream.StormAlerts, domain.StormMessage(station, rate)); err != nil {
			return err
		}
	}
	h.Add(s)
	return nil
}

func (d *Detector) publish(ctx context.Context, ch stream.Channel, msg string) error {
	if err := d.store.Publish(ctx, ch, []byte(msg)); err != nil {
		return err
	}
	d.metrics.AlertsPublished.WithLabelValues(string(ch), "detector").Inc()
	d.logger.Info("alert published", "channel", string(ch), "message", msg)
	return nil
}

// History returns the pressure history of station, or nil if none was recorded.
func (d *Detector) History(station string) *History { return d.history[station] }

func (d *Detector) resolveCursor(ctx context.Context) error {
	if d.resolved {
		return nil
	}
	id, ok, err := d.checkpoints.Load(ctx, d.opts.CheckpointName)
	if err != nil {
		// Falling back to the configured start would replay the stream, so retry instead.
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		return domain.StoreUnavailable("load checkpoint", err)
	}
	if ok {
		d.cursor = id
		d.resolved = true
		return nil
	}

	if d.opts.Start == StartTail {
		last, err := d.store.Last(ctx, stream.Observations)
		if err != nil {
			return err
		}
		d.cursor = last
	} else {
		id, err := stream.ParseEntryID(d.opts.Start)
		if err != nil {
			return err
		}
		d.cursor = id
	}
	d.resolved = true
	return nil
}
