package detector

import "time"

// Sample is one retained pressure observation.
type Sample struct {
	At       time.Time
	Pressure float64 // mb
}

// History holds the recent pressure samples of one station, oldest first. It
// is bounded both by count and by age relative to the newest sample.
type History struct {
	size    int
	window  time.Duration
	samples []Sample
}

// NewHistory creates an empty history keeping at most size samples no older
// than window. A zero window disables the age bound.
func NewHistory(size int, window time.Duration) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size, window: window}
}

// Latest returns the newest retained sample.
func (h *History) Latest() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Add appends s and evicts samples past either bound. Callers only add samples
// newer than Latest.
func (h *History) Add(s Sample) {
	h.samples = append(h.samples, s)

	drop := 0
	if over := len(h.samples) - h.size; over > 0 {
		drop = over
	}
	if h.window > 0 {
		cutoff := s.At.Add(-h.window)
		for drop < len(h.samples)-1 && h.samples[drop].At.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		h.samples = append(h.samples[:0], h.samples[drop:]...)
	}
}

// Len reports the number of retained samples.
func (h *History) Len() int { return len(h.samples) }

// Samples returns a copy of the retained samples, oldest first.
func (h *History) Samples() []Sample {
	return append([]Sample(nil), h.samples...)
}
