// Package sampling provides the two-point rate measurement used by
// collectors that derive instantaneous rates (power, bandwidth) from
// monotonic counters (energy, bytes).
package sampling

import "time"

// ReadFunc reads the current value of a monotonic quantity. The second
// return value is false when no reading is currently available; that is a
// "no sample" outcome, not an error.
type ReadFunc func() (float64, bool)

// Rate reads the quantity, blocks the calling goroutine for delay, reads it
// again, and returns the average rate of change per second. If either read
// yields no value, Rate returns no sample; it never retries within one call.
//
// A counter that decreases between the two reads (wraparound, reset)
// produces a negative rate, passed through unclamped. Callers that need a
// non-negative rate filter the result themselves.
func Rate(read ReadFunc, delay time.Duration) (float64, bool) {
	first, ok := read()
	if !ok {
		return 0, false
	}
	start := time.Now()
	time.Sleep(delay)
	second, ok := read()
	if !ok {
		return 0, false
	}
	elapsed := time.Since(start).Seconds()
	return (second - first) / elapsed, true
}
