// Command stormwatch runs the weather collector, the storm/cow detector, and
// the live gateway. COMPONENTS selects which of them this process runs; they
// coordinate only through the stream store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter"
	httpadapter "github.com/couchcryptid/storm-alert-pipeline/internal/adapter/http"
	mqttadapter "github.com/couchcryptid/storm-alert-pipeline/internal/adapter/mqtt"
	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter/noaa"
	"github.com/couchcryptid/storm-alert-pipeline/internal/collector"
	"github.com/couchcryptid/storm-alert-pipeline/internal/config"
	"github.com/couchcryptid/storm-alert-pipeline/internal/detector"
	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
	"github.com/couchcryptid/storm-alert-pipeline/internal/observability"
	"github.com/couchcryptid/storm-alert-pipeline/internal/pipeline"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("stormwatch exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := adapter.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("stream store close error", "error", err)
		}
	}()

	sup := pipeline.New(store, logger, metrics, nil)

	if cfg.Enabled(config.ComponentCollector) {
		client := noaa.NewClient(noaa.Options{
			BaseURL:         cfg.ProviderBaseURL,
			UserAgent:       cfg.ProviderUserAgent,
			Timeout:         cfg.ProviderTimeout,
			RateLimit:       cfg.ProviderRateLimit,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		}, metrics, logger)
		c := collector.New(store, client, collector.Options{
			Stations:      cfg.Stations,
			WindThreshold: cfg.WindSpeedThreshold,
			Interval:      cfg.SleepInterval,
		}, logger, metrics)
		sup.Add(config.ComponentCollector, c.Run)
		logger.Info("collector enabled", "stations", cfg.Stations, "interval", cfg.SleepInterval)
	}

	if cfg.Enabled(config.ComponentDetector) {
		checkpoints, err := adapter.OpenCheckpoints(ctx, cfg, store)
		if err != nil {
			return err
		}
		defer func() {
			if err := checkpoints.Close(); err != nil {
				logger.Error("checkpoint store close error", "error", err)
			}
		}()
		d := detector.New(store, checkpoints, detector.Options{
			WindThreshold:         cfg.WindSpeedThreshold,
			PressureDropThreshold: cfg.PressureDropThreshold,
			HistorySize:           cfg.DetectorHistorySize,
			HistoryWindow:         cfg.DetectorHistoryWindow,
			Start:                 cfg.DetectorStart,
		}, logger, metrics)
		sup.Add(config.ComponentDetector, d.Run)
		logger.Info("detector enabled", "cursor_backend", cfg.CursorBackend, "start", cfg.DetectorStart)
	}

	var bridge *gateway.Bridge
	if cfg.Enabled(config.ComponentGateway) {
		bridge = gateway.New(store, logger, metrics)
		if cfg.MQTTBroker != "" {
			mq, err := mqttadapter.Connect(ctx, mqttadapter.Options{
				Broker:      cfg.MQTTBroker,
				ClientID:    cfg.MQTTClientID,
				TopicPrefix: cfg.MQTTTopicPrefix,
			}, logger)
			if err != nil {
				return err
			}
			defer mq.Close()
			sup.Add("mqtt", func(ctx context.Context) error {
				return bridge.RelayAlerts(ctx, mq.Sink())
			})
			logger.Info("mqtt alert bridge enabled", "broker", cfg.MQTTBroker, "prefix", cfg.MQTTTopicPrefix)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, sup, bridge, httpadapter.Options{
		OriginPatterns: cfg.WSOriginPatterns,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
