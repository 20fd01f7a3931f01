// Package ratelimit gates outbound REST calls so the exchange request
// quota is never exceeded. It combines per-category token buckets with
// a single adaptive pacer that spaces all requests globally.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"nakula/pkg/core"
)

// CategoryLimit configures one category bucket.
type CategoryLimit struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond int
	// Burst is the bucket capacity.
	Burst int
}

// DefaultCategoryLimits returns the OKX-documented per-category ceilings.
func DefaultCategoryLimits() map[core.Category]CategoryLimit {
	return map[core.Category]CategoryLimit{
		core.CategoryPublic:         {RequestsPerSecond: 20, Burst: 5},
		core.CategoryMarketData:     {RequestsPerSecond: 40, Burst: 10},
		core.CategoryPrivateAccount: {RequestsPerSecond: 10, Burst: 3},
		core.CategoryPrivateTrade:   {RequestsPerSecond: 5, Burst: 2},
	}
}

// Limiter tracks remaining call budget per endpoint category and paces
// all outbound requests with a self-tuning minimum interval.
type Limiter struct {
	buckets       map[core.Category]*rate.Limiter
	pacer         *Pacer
	permitTimeout time.Duration
	metrics       *Metrics
}

// Metrics tracks permit statistics.
type Metrics struct {
	requested atomic.Int64
	granted   atomic.Int64
	denied    atomic.Int64
}

// Config holds Limiter configuration.
type Config struct {
	// Limits overrides per-category ceilings; nil uses defaults.
	Limits map[core.Category]CategoryLimit
	// PermitTimeout bounds how long Acquire may block.
	PermitTimeout time.Duration
	// PacingFloor and PacingCeiling bound the adaptive spacing.
	PacingFloor   time.Duration
	PacingCeiling time.Duration
}

// New creates a Limiter. Zero-valued config fields get defaults
// (2s permit timeout, 0.5s-3s pacing bounds).
func New(cfg Config) *Limiter {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultCategoryLimits()
	}
	if cfg.PermitTimeout == 0 {
		cfg.PermitTimeout = 2 * time.Second
	}
	if cfg.PacingFloor == 0 {
		cfg.PacingFloor = 500 * time.Millisecond
	}
	if cfg.PacingCeiling == 0 {
		cfg.PacingCeiling = 3 * time.Second
	}

	buckets := make(map[core.Category]*rate.Limiter, len(limits))
	for cat, l := range limits {
		buckets[cat] = rate.NewLimiter(rate.Limit(l.RequestsPerSecond), l.Burst)
	}

	return &Limiter{
		buckets:       buckets,
		pacer:         NewPacer(cfg.PacingFloor, cfg.PacingCeiling),
		permitTimeout: cfg.PermitTimeout,
		metrics:       &Metrics{},
	}
}

// Acquire blocks until the category has capacity and the global pacing
// interval has elapsed, or the permit timeout expires. A false return
// means the caller should degrade (return an empty result), not fail:
// permit denial is a throughput condition, not an error.
func (l *Limiter) Acquire(ctx context.Context, category core.Category) bool {
	l.metrics.requested.Add(1)

	ctx, cancel := context.WithTimeout(ctx, l.permitTimeout)
	defer cancel()

	if err := l.pacer.Wait(ctx); err != nil {
		l.metrics.denied.Add(1)
		return false
	}

	bucket, ok := l.buckets[category]
	if !ok {
		bucket = l.buckets[core.CategoryPublic]
	}
	if err := bucket.Wait(ctx); err != nil {
		l.metrics.denied.Add(1)
		return false
	}

	l.metrics.granted.Add(1)
	return true
}

// Allow reports whether a request in the category could proceed
// immediately, without consuming pacing state.
func (l *Limiter) Allow(category core.Category) bool {
	bucket, ok := l.buckets[category]
	if !ok {
		return false
	}
	return bucket.Tokens() >= 1
}

// OnRateLimited widens the global spacing after an exchange rejection.
func (l *Limiter) OnRateLimited() {
	l.pacer.Widen()
}

// OnSuccess narrows the global spacing after a successful call.
func (l *Limiter) OnSuccess() {
	l.pacer.Relax()
}

// MinInterval returns the current adaptive spacing.
func (l *Limiter) MinInterval() time.Duration {
	return l.pacer.MinInterval()
}

// SetCategoryLimit retunes one category bucket at runtime.
func (l *Limiter) SetCategoryLimit(category core.Category, limit CategoryLimit) {
	if bucket, ok := l.buckets[category]; ok {
		bucket.SetLimit(rate.Limit(limit.RequestsPerSecond))
		bucket.SetBurst(limit.Burst)
	}
}

// Snapshot returns a point-in-time capture of permit statistics.
func (l *Limiter) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requested:   l.metrics.requested.Load(),
		Granted:     l.metrics.granted.Load(),
		Denied:      l.metrics.denied.Load(),
		MinInterval: l.pacer.MinInterval(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// Requested is the total number of permits asked for.
	Requested int64
	// Granted is the number of permits granted.
	Granted int64
	// Denied is the number of permits that timed out.
	Denied int64
	// MinInterval is the current adaptive global spacing.
	MinInterval time.Duration
}
