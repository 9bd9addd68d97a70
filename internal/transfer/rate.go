package transfer

import "time"

// Rate is a throughput estimate derived from byte counters.
type Rate struct {
	SpeedBPS   float64
	ETASeconds float64
	ETAKnown   bool
}

// EstimateRate computes throughput and remaining time from byte counters.
// It is a pure function: a non-positive elapsed duration yields zero speed
// rather than a division by zero, and the ETA is only reported when both the
// total size and a positive speed are known. Results are never negative.
func EstimateRate(bytesReceived int64, elapsed time.Duration, totalBytes int64) Rate {
	var rate Rate

	if bytesReceived <= 0 || elapsed <= 0 {
		return rate
	}

	rate.SpeedBPS = float64(bytesReceived) / elapsed.Seconds()

	if totalBytes > SizeUnknown && rate.SpeedBPS > 0 {
		remaining := totalBytes - bytesReceived
		if remaining < 0 {
			remaining = 0
		}

		rate.ETASeconds = float64(remaining) / rate.SpeedBPS
		rate.ETAKnown = true
	}

	return rate
}

// ProgressPercent computes percent-complete in [0,100]. Unknown totals
// yield zero (indeterminate progress).
func ProgressPercent(bytesReceived, totalBytes int64) float64 {
	if totalBytes <= SizeUnknown {
		return 0
	}

	percent := float64(bytesReceived) * 100 / float64(totalBytes)
	if percent < 0 {
		return 0
	}

	if percent > 100 {
		return 100
	}

	return percent
}
