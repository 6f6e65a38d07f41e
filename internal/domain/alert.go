package domain

import (
	"fmt"
	"time"
)

// Default detection thresholds.
const (
	DefaultWindSpeedThreshold    = 50.0 // mph
	DefaultPressureDropThreshold = 4.0  // mb/hour
)

// ExceedsWind reports whether the reading trips the cow-alert rule. A missing
// wind speed never alerts, and a value equal to the threshold does not alert.
func ExceedsWind(r Reading, threshold float64) bool {
	return r.WindSpeed != nil && *r.WindSpeed > threshold
}

// PressureDropRate returns the pressure fall in mb/hour between two samples.
// A rising pressure yields a negative rate. ok is false when elapsed is not
// positive, since no rate can be derived from simultaneous or reordered samples.
func PressureDropRate(prev, curr float64, elapsed time.Duration) (rate float64, ok bool) {
	if elapsed <= 0 {
		return 0, false
	}
	return (prev - curr) / elapsed.Hours(), true
}

// CollectorCowMessage is the cow alert raised inline by the collector.
func CollectorCowMessage(station string, windSpeed float64) string {
	return fmt.Sprintf("We got cows at %s! Wind: %.0fmph", station, windSpeed)
}

// DetectorCowMessage is the cow alert raised by the stream detector.
func DetectorCowMessage(station string, windSpeed float64) string {
	return fmt.Sprintf("COW ALERT at %s! Wind: %.0fmph", station, windSpeed)
}

// StormMessage is the storm alert for a rapid pressure drop.
func StormMessage(station string, rate float64) string {
	return fmt.Sprintf("STORM ALERT at %s! Pressure falling %.1f mb/hour", station, rate)
}
