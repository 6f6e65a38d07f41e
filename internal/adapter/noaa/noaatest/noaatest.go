// Package noaatest builds api.weather.gov observation documents and serves
// them from a fake provider, for tests and local end-to-end runs.
package noaatest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Observation describes one latest-observation document in canonical units.
// Nil measurements are emitted as JSON null, the way the provider reports
// missing sensor values.
type Observation struct {
	Station     string
	Time        time.Time
	TempC       *float64
	WindMph     *float64
	PrecipMM    *float64
	PressureMb  *float64
	HumidityPct *float64
	Cloud       string
	// Canonical emits values as-is without unit codes instead of converting
	// wind to km/h and pressure to Pa. Use it when a test compares exact
	// values at a threshold.
	Canonical bool
}

// Value returns a pointer to v.
func Value(v float64) *float64 { return &v }

type quantity struct {
	UnitCode string   `json:"unitCode,omitempty"`
	Value    *float64 `json:"value"`
}

type cloudLayer struct {
	Amount string `json:"amount"`
}

func (o Observation) quantity(v *float64, unit string, factor float64) quantity {
	if o.Canonical {
		return quantity{Value: v}
	}
	if v != nil && factor != 1 {
		converted := *v * factor
		v = &converted
	}
	return quantity{UnitCode: unit, Value: v}
}

// Body renders the observation as the provider's GeoJSON feature.
func (o Observation) Body() []byte {
	props := map[string]any{
		"@id":                   "https://api.weather.gov/stations/" + o.Station + "/observations/" + o.Time.UTC().Format(time.RFC3339),
		"station":               "https://api.weather.gov/stations/" + o.Station,
		"timestamp":             o.Time.UTC().Format("2006-01-02T15:04:05-07:00"),
		"temperature":           o.quantity(o.TempC, "wmoUnit:degC", 1),
		"windSpeed":             o.quantity(o.WindMph, "wmoUnit:km_h-1", 1.609344),
		"precipitationLastHour": o.quantity(o.PrecipMM, "wmoUnit:mm", 1),
		"barometricPressure":    o.quantity(o.PressureMb, "wmoUnit:Pa", 100),
		"relativeHumidity":      o.quantity(o.HumidityPct, "wmoUnit:percent", 1),
		"cloudLayers":           []cloudLayer{},
	}
	if o.Cloud != "" {
		props["cloudLayers"] = []cloudLayer{{Amount: o.Cloud}}
	}
	doc := map[string]any{
		"type":       "Feature",
		"properties": props,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err) // only plain values above
	}
	return b
}

// Provider is an http.Handler serving /stations/{station}/observations/latest.
// Stations with no observation and no status answer 404.
type Provider struct {
	mu       sync.Mutex
	obs      map[string]Observation
	statuses map[string]int
	requests map[string]int
}

// NewProvider creates an empty fake provider.
func NewProvider() *Provider {
	return &Provider{
		obs:      make(map[string]Observation),
		statuses: make(map[string]int),
		requests: make(map[string]int),
	}
}

// Set replaces the latest observation for its station.
func (p *Provider) Set(o Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obs[o.Station] = o
	delete(p.statuses, o.Station)
}

// Fail makes every request for station answer with status.
func (p *Provider) Fail(station string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[station] = status
}

// Requests reports how many requests station received.
func (p *Provider) Requests(station string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[station]
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/stations/")
	station, ok2 := strings.CutSuffix(rest, "/observations/latest")
	if r.Method != http.MethodGet || !ok || !ok2 || station == "" {
		http.NotFound(w, r)
		return
	}

	p.mu.Lock()
	p.requests[station]++
	status, failing := p.statuses[station]
	o, known := p.obs[station]
	p.mu.Unlock()

	switch {
	case failing:
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"title":"` + http.StatusText(status) + `"}`))
	case !known:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(o.Body())
	}
}
