package util

import "testing"

func TestBackoffGrowsTowardCap(t *testing.T) {
	base := float64(1_000_000)   // 1ms in ns
	max := float64(100_000_000)  // 100ms in ns
	for _, retries := range []int{0, 1, 5, 50} {
		d := Backoff(base, max, 0, 2, retries)
		if d < 0 {
			t.Fatalf("retries=%d: got negative backoff %v", retries, d)
		}
		if float64(d) > max*1.01 {
			t.Fatalf("retries=%d: backoff %v exceeded cap %v", retries, d, max)
		}
	}
}

func TestBackoffZeroJitterIsDeterministic(t *testing.T) {
	a := Backoff(1_000_000, 100_000_000, 0, 2, 3)
	b := Backoff(1_000_000, 100_000_000, 0, 2, 3)
	if a != b {
		t.Fatalf("expected deterministic result with zero jitter, got %v != %v", a, b)
	}
}

func TestDefaultBackoffWithinCap(t *testing.T) {
	d := DefaultBackoff(1_000_000, 50_000_000, 10)
	if d <= 0 {
		t.Fatalf("expected positive backoff, got %v", d)
	}
	// The capped delay is jittered by up to +/-20%.
	if float64(d) > 50_000_000*1.2 {
		t.Fatalf("backoff %v exceeded cap plus jitter", d)
	}
}
