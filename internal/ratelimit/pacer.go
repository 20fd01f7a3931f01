package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	widenFactor = 1.5
	relaxFactor = 0.95
)

// Pacer enforces a single adaptive minimum interval between all
// outbound requests, regardless of category. The interval widens on
// exchange rejections and slowly relaxes on success, always staying
// inside [floor, ceiling].
type Pacer struct {
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
	floor       time.Duration
	ceiling     time.Duration
}

// NewPacer creates a Pacer with the given bounds, starting at the floor.
func NewPacer(floor, ceiling time.Duration) *Pacer {
	if ceiling < floor {
		ceiling = floor
	}
	return &Pacer{
		minInterval: floor,
		floor:       floor,
		ceiling:     ceiling,
	}
}

// Wait blocks until at least the current minimum interval has elapsed
// since the previous request, or the context expires. The request slot
// is claimed up front so concurrent callers serialize; a caller whose
// context expires mid-wait releases its slot so it does not push out
// the spacing of the next request.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if !p.lastRequest.IsZero() {
		next := p.lastRequest.Add(p.minInterval)
		if next.After(now) {
			wait = next.Sub(now)
		}
	}
	prev := p.lastRequest
	claimed := now.Add(wait)
	p.lastRequest = claimed
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if p.lastRequest.Equal(claimed) {
			p.lastRequest = prev
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Widen increases the minimum interval by 50%, capped at the ceiling.
func (p *Pacer) Widen() {
	p.mu.Lock()
	defer p.mu.Unlock()

	widened := time.Duration(float64(p.minInterval) * widenFactor)
	if widened > p.ceiling {
		widened = p.ceiling
	}
	p.minInterval = widened
}

// Relax decreases the minimum interval by 5%, floored at the floor.
func (p *Pacer) Relax() {
	p.mu.Lock()
	defer p.mu.Unlock()

	relaxed := time.Duration(float64(p.minInterval) * relaxFactor)
	if relaxed < p.floor {
		relaxed = p.floor
	}
	p.minInterval = relaxed
}

// MinInterval returns the current minimum interval.
func (p *Pacer) MinInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minInterval
}
