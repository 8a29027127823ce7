package integrations

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces the fixed inter-call delay between successive per-channel
// requests to one provider. It replaces sleep-based pacing with a token
// bucket so tests can exercise it without a clock full of real sleeps.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a pacer that admits one call per interval, with a burst
// of one so the first call in a fetch never waits.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Pacer{
		lim: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait blocks until the next call is admitted or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

// Allow reports (without blocking) whether a call would be admitted now.
func (p *Pacer) Allow() bool {
	return p.lim.Allow()
}
