package transfer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateRate(t *testing.T) {
	tests := []struct {
		name      string
		bytes     int64
		elapsed   time.Duration
		total     int64
		wantSpeed float64
		wantETA   float64
		wantKnown bool
	}{
		{
			name:    "zero elapsed yields zero speed",
			bytes:   1 << 20,
			elapsed: 0,
			total:   10 << 20,
		},
		{
			name:    "negative elapsed yields zero speed",
			bytes:   1 << 20,
			elapsed: -time.Second,
			total:   10 << 20,
		},
		{
			name:    "zero bytes yields zero speed",
			bytes:   0,
			elapsed: 10 * time.Second,
			total:   10 << 20,
		},
		{
			name:      "steady transfer",
			bytes:     500_000,
			elapsed:   5 * time.Second,
			total:     1_000_000,
			wantSpeed: 100_000,
			wantETA:   5,
			wantKnown: true,
		},
		{
			name:      "unknown total has no eta",
			bytes:     500_000,
			elapsed:   5 * time.Second,
			total:     SizeUnknown,
			wantSpeed: 100_000,
		},
		{
			name:      "bytes beyond total clamps eta at zero",
			bytes:     1_200_000,
			elapsed:   2 * time.Second,
			total:     1_000_000,
			wantSpeed: 600_000,
			wantETA:   0,
			wantKnown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := EstimateRate(tt.bytes, tt.elapsed, tt.total)

			assert.InDelta(t, tt.wantSpeed, rate.SpeedBPS, 0.001)
			assert.InDelta(t, tt.wantETA, rate.ETASeconds, 0.001)
			assert.Equal(t, tt.wantKnown, rate.ETAKnown)
		})
	}
}

// Rates must be finite for any input combination; a NaN or Inf leaking into
// derived fields would poison serialization and display.
func TestEstimateRate_NeverNaNOrInf(t *testing.T) {
	byteValues := []int64{-1, 0, 1, 1 << 30}
	elapsedValues := []time.Duration{-time.Second, 0, time.Nanosecond, time.Hour}
	totalValues := []int64{-5, SizeUnknown, 1, 1 << 40}

	for _, b := range byteValues {
		for _, e := range elapsedValues {
			for _, total := range totalValues {
				rate := EstimateRate(b, e, total)

				assert.False(t, math.IsNaN(rate.SpeedBPS) || math.IsInf(rate.SpeedBPS, 0),
					"speed must be finite for bytes=%d elapsed=%s total=%d", b, e, total)
				assert.False(t, math.IsNaN(rate.ETASeconds) || math.IsInf(rate.ETASeconds, 0),
					"eta must be finite for bytes=%d elapsed=%s total=%d", b, e, total)
				assert.GreaterOrEqual(t, rate.SpeedBPS, 0.0)
				assert.GreaterOrEqual(t, rate.ETASeconds, 0.0)
			}
		}
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		total int64
		want  float64
	}{
		{name: "unknown total is indeterminate", bytes: 500, total: SizeUnknown, want: 0},
		{name: "halfway", bytes: 50, total: 100, want: 50},
		{name: "complete", bytes: 100, total: 100, want: 100},
		{name: "overshoot clamps to 100", bytes: 150, total: 100, want: 100},
		{name: "negative clamps to 0", bytes: -10, total: 100, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ProgressPercent(tt.bytes, tt.total), 0.001)
		})
	}
}
