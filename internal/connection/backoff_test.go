package connection

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffBase(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 1.5},
		{29 * time.Second, 1.5},
		{30 * time.Second, 2.0},
		{119 * time.Second, 2.0},
		{120 * time.Second, 3.0},
		{time.Hour, 3.0},
	}
	for _, tt := range tests {
		if got := BackoffBase(tt.elapsed); got != tt.want {
			t.Errorf("BackoffBase(%s) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestBackoff_BaseDelay(t *testing.T) {
	b := Backoff{Initial: 2 * time.Second, Max: 60 * time.Second}

	tests := []struct {
		attempt int
		elapsed time.Duration
		want    time.Duration
	}{
		{1, 0, 2 * time.Second},
		{2, 0, 3 * time.Second},
		{3, 0, 4500 * time.Millisecond},
		{3, 45 * time.Second, 8 * time.Second},
		{3, 5 * time.Minute, 18 * time.Second},
		{50, 0, 60 * time.Second},
		{100000, time.Hour, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := b.BaseDelay(tt.attempt, tt.elapsed); got != tt.want {
			t.Errorf("BaseDelay(%d, %s) = %s, want %s", tt.attempt, tt.elapsed, got, tt.want)
		}
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 30 * time.Second}

	// Outage length grows with the attempt count, as it does in practice.
	var prev time.Duration
	for attempt := 1; attempt <= 40; attempt++ {
		elapsed := time.Duration(attempt) * 5 * time.Second
		d := b.BaseDelay(attempt, elapsed)
		if d < prev {
			t.Errorf("attempt %d: delay %s shrank from %s", attempt, d, prev)
		}
		if d > b.Max {
			t.Errorf("attempt %d: delay %s above max %s", attempt, d, b.Max)
		}
		prev = d
	}
	if prev != b.Max {
		t.Errorf("final delay = %s, want %s", prev, b.Max)
	}
}

func TestBackoff_JitterBound(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: time.Minute, Jitter: 0.2}
	rng := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= 20; attempt++ {
		base := b.BaseDelay(attempt, 0)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		for i := 0; i < 100; i++ {
			if d := b.Delay(attempt, 0, rng.Float64()); d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
			}
		}
	}

	if got, want := b.Delay(1, 0, 0), time.Duration(float64(time.Second)*0.8); got != want {
		t.Errorf("Delay(1, 0, 0) = %s, want %s", got, want)
	}
}

func TestBackoff_NoJitter(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: time.Minute}
	if got, want := b.Delay(4, 0, 0.99), b.BaseDelay(4, 0); got != want {
		t.Errorf("Delay without jitter = %s, want %s", got, want)
	}
}
