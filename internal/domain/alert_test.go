package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExceedsWind(t *testing.T) {
	tests := []struct {
		name string
		wind *float64
		want bool
	}{
		{name: "missing wind", wind: nil, want: false},
		{name: "calm", wind: Float(0), want: false},
		{name: "below threshold", wind: Float(49.9), want: false},
		{name: "equal to threshold", wind: Float(50), want: false},
		{name: "above threshold", wind: Float(55), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Reading{Station: "KSEA", WindSpeed: tt.wind}
			assert.Equal(t, tt.want, ExceedsWind(r, DefaultWindSpeedThreshold))
		})
	}
}

func TestPressureDropRate(t *testing.T) {
	rate, ok := PressureDropRate(1010, 1005, time.Hour)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, rate, 0.0001)

	rate, ok = PressureDropRate(1010, 1008, 30*time.Minute)
	assert.True(t, ok)
	assert.InDelta(t, 4.0, rate, 0.0001)

	rate, ok = PressureDropRate(1000, 1004, time.Hour)
	assert.True(t, ok)
	assert.InDelta(t, -4.0, rate, 0.0001)

	_, ok = PressureDropRate(1010, 1000, 0)
	assert.False(t, ok)

	_, ok = PressureDropRate(1010, 1000, -time.Minute)
	assert.False(t, ok)
}

func TestAlertMessages(t *testing.T) {
	assert.Equal(t, "We got cows at KSEA! Wind: 55mph", CollectorCowMessage("KSEA", 55))
	assert.Equal(t, "COW ALERT at KSEA! Wind: 55mph", DetectorCowMessage("KSEA", 55))
	assert.Equal(t, "STORM ALERT at KPDX! Pressure falling 5.0 mb/hour", StormMessage("KPDX", 5))
}

func TestErrorWrappers(t *testing.T) {
	root := errors.New("connection refused")

	err := StoreUnavailable("append", root)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "append")

	err = FetchFailed("KBOI", root)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, root)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "KBOI")
}
