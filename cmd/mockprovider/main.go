// Command mockprovider serves a fake api.weather.gov with steadily changing
// readings, for local end-to-end runs. Point PROVIDER_BASE_URL at it.
//
// Usage:
//
//	mockprovider -addr :9000 -trend -5 -speedup 60 -windy KSEA
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/adapter/noaa/noaatest"
	"github.com/couchcryptid/storm-alert-pipeline/internal/config"
)

type scenario struct {
	stations []string
	windy    map[string]bool
	pressure float64 // mb at start
	trend    float64 // mb per simulated hour
	wind     float64 // mph
	gust     float64 // mph for windy stations
	speedup  float64
	start    time.Time
}

func main() {
	if err := run(); err != nil {
		slog.Error("mockprovider failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":9000", "listen address")
	stations := flag.String("stations", "KPDX,KSEA,KBOI", "comma-separated station IDs")
	windy := flag.String("windy", "", "comma-separated stations that report -gust wind")
	pressure := flag.Float64("pressure", 1012, "starting pressure in mb")
	trend := flag.Float64("trend", -5, "pressure change in mb per simulated hour")
	wind := flag.Float64("wind", 12, "wind speed in mph")
	gust := flag.Float64("gust", 60, "wind speed in mph for -windy stations")
	speedup := flag.Float64("speedup", 60, "simulated seconds per real second")
	refresh := flag.Duration("refresh", time.Second, "how often readings advance")
	flag.Parse()

	sc := scenario{
		stations: config.ParseList(*stations),
		windy:    make(map[string]bool),
		pressure: *pressure,
		trend:    *trend,
		wind:     *wind,
		gust:     *gust,
		speedup:  *speedup,
		start:    time.Now().UTC().Truncate(time.Second),
	}
	for _, s := range config.ParseList(*windy) {
		sc.windy[s] = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	provider := noaatest.NewProvider()
	sc.apply(provider, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		began := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sc.apply(provider, time.Since(began))
			}
		}
	}()

	srv := &http.Server{Addr: *addr, Handler: provider, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock provider listening", "addr", *addr, "stations", sc.stations, "trend_mb_per_hour", sc.trend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (sc scenario) apply(p *noaatest.Provider, elapsed time.Duration) {
	for _, s := range sc.stations {
		p.Set(sc.observation(s, elapsed))
	}
}

// observation is the reading for a station after elapsed real time.
func (sc scenario) observation(station string, elapsed time.Duration) noaatest.Observation {
	sim := time.Duration(float64(elapsed) * sc.speedup)
	wind := sc.wind
	if sc.windy[station] {
		wind = sc.gust
	}
	return noaatest.Observation{
		Station:     station,
		Time:        sc.start.Add(sim),
		TempC:       noaatest.Value(14),
		WindMph:     noaatest.Value(wind),
		PressureMb:  noaatest.Value(sc.pressure + sc.trend*sim.Hours()),
		HumidityPct: noaatest.Value(70),
		Cloud:       "OVC",
	}
}
