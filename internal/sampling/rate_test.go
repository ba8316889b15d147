package sampling_test

import (
	"math"
	"testing"
	"time"

	"github.com/probelab/hwpulse/internal/sampling"
)

func TestRate(t *testing.T) {
	const delay = 100 * time.Millisecond

	// 5 units over ~0.1s => ~50 units/s. Sleep overshoot only shrinks the
	// result, so allow a generous lower bound.
	values := []float64{100, 105}
	i := 0
	read := func() (float64, bool) {
		v := values[i]
		i++
		return v, true
	}

	rate, ok := sampling.Rate(read, delay)
	if !ok {
		t.Fatal("expected a sample")
	}
	if rate < 20 || rate > 55 {
		t.Errorf("rate %v outside expected range for 5 units over ~100ms", rate)
	}
}

func TestRate_FirstReadUnavailable(t *testing.T) {
	calls := 0
	read := func() (float64, bool) {
		calls++
		return 0, false
	}

	if _, ok := sampling.Rate(read, time.Hour); ok {
		t.Error("expected no sample")
	}
	// The sampler must abort before sleeping: a single failed read, no
	// second attempt.
	if calls != 1 {
		t.Errorf("got %d reads, want 1", calls)
	}
}

func TestRate_SecondReadUnavailable(t *testing.T) {
	i := 0
	read := func() (float64, bool) {
		i++
		return 100, i == 1
	}

	if _, ok := sampling.Rate(read, time.Millisecond); ok {
		t.Error("expected no sample")
	}
	if i != 2 {
		t.Errorf("got %d reads, want 2", i)
	}
}

func TestRate_NegativePassedThrough(t *testing.T) {
	// Counter reset between reads: the raw negative rate is returned as-is.
	values := []float64{1000, 0}
	i := 0
	read := func() (float64, bool) {
		v := values[i]
		i++
		return v, true
	}

	rate, ok := sampling.Rate(read, 10*time.Millisecond)
	if !ok {
		t.Fatal("expected a sample")
	}
	if rate >= 0 || math.IsNaN(rate) {
		t.Errorf("got rate %v, want a negative finite value", rate)
	}
}
