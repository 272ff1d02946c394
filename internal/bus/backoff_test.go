package bus

import (
	"testing"
	"time"
)

func TestBackoffDelayRanges(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 8 * time.Second}

	d1 := b.Delay(1)
	if d1 < time.Second/2 || d1 > 8*time.Second {
		t.Fatalf("delay out of range for attempt 1: %s", d1)
	}

	d3 := b.Delay(3)
	if d3 < 2*time.Second || d3 > 8*time.Second {
		t.Fatalf("delay out of range for attempt 3: %s", d3)
	}

	// attempts past the cap stay at the cap
	d10 := b.Delay(10)
	if d10 > 8*time.Second {
		t.Fatalf("delay exceeds cap: %s", d10)
	}
}

func TestBackoffTinyInitial(t *testing.T) {
	b := Backoff{Initial: time.Nanosecond, Max: time.Second}
	for attempt := 0; attempt <= 3; attempt++ {
		if d := b.Delay(attempt); d <= 0 {
			t.Fatalf("expected positive delay for attempt %d, got %s", attempt, d)
		}
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	var b Backoff
	if d := b.Delay(0); d <= 0 {
		t.Fatalf("expected positive default delay, got %s", d)
	}
}
