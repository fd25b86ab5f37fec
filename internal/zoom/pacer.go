package zoom

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out page requests. One Pacer is shared by every enumerator in a
// run so the politeness delay applies account-wide.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one request immediately and then one per delay. A zero or
// negative delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next request may be sent or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
