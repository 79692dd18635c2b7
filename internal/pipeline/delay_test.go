package pipeline

import (
	"testing"
	"time"
)

func TestNextDelay(t *testing.T) {
	base := 3 * time.Second

	if got := NextDelay(base, 0); got != base {
		t.Errorf("NextDelay with no errors = %v, want base %v", got, base)
	}
	if got := NextDelay(base, 4); got != 5*time.Second {
		t.Errorf("NextDelay(3s, 4) = %v, want 5s", got)
	}
	if got := NextDelay(base, 1000); got != maxInterBatchDelay {
		t.Errorf("NextDelay must cap at %v, got %v", maxInterBatchDelay, got)
	}
	if got := NextDelay(0, 0); got != defaultBaseDelay {
		t.Errorf("NextDelay with zero base = %v, want default %v", got, defaultBaseDelay)
	}
}

func TestNextDelayMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for errors := 0; errors <= 40; errors++ {
		d := NextDelay(3*time.Second, errors)
		if d < prev {
			t.Fatalf("delay decreased at errorCount=%d: %v < %v", errors, d, prev)
		}
		prev = d
	}
}
