package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading is one canonical observation snapshot for a station.
// Every measurement is nullable because provider payloads are frequently partial.
type Reading struct {
	Station       string   `json:"station"`
	Timestamp     *string  `json:"timestamp"`
	Temperature   *float64 `json:"temperature"`   // degrees Celsius
	WindSpeed     *float64 `json:"wind_speed"`    // miles per hour
	Precipitation *float64 `json:"precipitation"` // millimetres over the last hour
	Pressure      *float64 `json:"pressure"`      // millibars (hPa)
	Humidity      *float64 `json:"humidity"`      // percent
	CloudCover    *string  `json:"cloud_cover"`   // METAR amount code, e.g. "FEW", "OVC"
}

// ObservedAt parses the provider timestamp. ok is false when the provider
// omitted it or sent something that is not RFC 3339.
func (r Reading) ObservedAt() (t time.Time, ok bool) {
	if r.Timestamp == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EncodeReading serializes a Reading for a stream entry or channel message.
func EncodeReading(r Reading) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return data, nil
}

// DecodeReading deserializes a stream payload. Payloads without a station are
// rejected because every downstream rule is keyed by station.
func DecodeReading(data []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if r.Station == "" {
		return Reading{}, fmt.Errorf("%w: missing station", ErrMalformedPayload)
	}
	return r, nil
}

// Float returns a pointer to v, for building readings in code.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
