package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParseObservation decodes a raw NWS "latest observation" body and transforms it.
// Only syntactically invalid JSON is rejected; any well-formed document yields a
// Reading, with absent fields left nil.
func ParseObservation(data []byte) (Reading, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reading{}, fmt.Errorf("parse observation: %w", err)
	}
	return TransformObservation(raw), nil
}

// TransformObservation maps a decoded provider payload into a Reading. It is a
// total function: a missing key, a null, or a value of the wrong shape at any
// level of the path produces a nil field instead of an error.
func TransformObservation(raw any) Reading {
	props := lookup(raw, "properties")

	return Reading{
		Station:       stationCode(stringAt(props, "station")),
		Timestamp:     stringAt(props, "timestamp"),
		Temperature:   measurement(lookup(props, "temperature")),
		WindSpeed:     measurement(lookup(props, "windSpeed")),
		Precipitation: measurement(lookup(props, "precipitationLastHour")),
		Pressure:      measurement(lookup(props, "barometricPressure")),
		Humidity:      measurement(lookup(props, "relativeHumidity")),
		CloudCover:    stringAt(firstElement(lookup(props, "cloudLayers")), "amount"),
	}
}

// lookup returns node[key] when node is a JSON object, nil otherwise.
func lookup(node any, key string) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	return obj[key]
}

func firstElement(node any) any {
	arr, ok := node.([]any)
	if !ok || len(arr) == 0 {
		return nil
	}
	return arr[0]
}

func stringAt(node any, key string) *string {
	s, ok := lookup(node, key).(string)
	if !ok {
		return nil
	}
	return &s
}

// measurement reads a {"value": n, "unitCode": "wmoUnit:..."} quantity and
// normalizes it to canonical units. A value that overflows on conversion is
// treated as missing.
func measurement(node any) *float64 {
	v, ok := lookup(node, "value").(float64)
	if !ok {
		return nil
	}
	unit, _ := lookup(node, "unitCode").(string)
	v = toCanonical(v, unit)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// toCanonical converts WMO unit codes used by api.weather.gov. Unknown or
// absent unit codes leave the value untouched.
func toCanonical(v float64, unitCode string) float64 {
	switch strings.TrimPrefix(unitCode, "wmoUnit:") {
	case "Pa":
		return v / 100 // Pa -> hPa (mb)
	case "km_h-1":
		return v / 1.609344
	case "m_s-1":
		return v * 2.2369363
	case "degF":
		return (v - 32) * 5 / 9
	default:
		return v
	}
}

// stationCode extracts "KPDX" from "https://api.weather.gov/stations/KPDX".
// Plain codes pass through. A nil or empty station stays empty so the caller
// can substitute the configured code.
func stationCode(s *string) string {
	if s == nil {
		return ""
	}
	code := strings.TrimRight(strings.TrimSpace(*s), "/")
	if i := strings.LastIndex(code, "/"); i >= 0 {
		code = code[i+1:]
	}
	return code
}
