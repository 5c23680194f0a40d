// SPDX-License-Identifier: MIT

package backoff

import (
	"testing"
	"time"
)

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		// allow the +20% jitter headroom above Max
		if d > p.Max+p.Max/5 {
			t.Fatalf("attempt %d: delay %v exceeds max with jitter headroom", attempt, d)
		}
	}
}

func TestDelayGrowsWithAttempt(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Max: 10 * time.Second}
	// Jitter makes a single comparison flaky; compare averages over many samples.
	avg := func(attempt int) time.Duration {
		var total time.Duration
		const n = 200
		for i := 0; i < n; i++ {
			total += p.Delay(attempt)
		}
		return total / n
	}
	if avg(3) <= avg(0) {
		t.Fatalf("expected later attempts to have a larger average delay")
	}
}
