// Package breaker tracks consecutive failures per key and trips once a
// threshold is crossed. It carries no timing logic; callers decide what
// a trip means (quarantine a symbol, rotate a credential) and when to
// reset.
package breaker

import "sync"

// Breaker counts consecutive failures for independent keys.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	tripped   map[string]bool
}

// New creates a Breaker that trips a key after threshold consecutive
// failures. A threshold below 1 is clamped to 1.
func New(threshold int) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		counts:    make(map[string]int),
		tripped:   make(map[string]bool),
	}
}

// RecordFailure increments the key's consecutive failure count and
// reports whether this failure tripped the breaker. Already-tripped
// keys report false; the trip fires once.
func (b *Breaker) RecordFailure(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped[key] {
		return false
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.tripped[key] = true
		return true
	}
	return false
}

// RecordSuccess clears the key's consecutive failure count. The tripped
// flag is sticky: a success after a trip does not untrip.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, key)
}

// Tripped reports whether the key has crossed the threshold.
func (b *Breaker) Tripped(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped[key]
}

// Failures returns the key's current consecutive failure count.
func (b *Breaker) Failures(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[key]
}

// ResetCounts zeroes all failure counts but leaves tripped flags in
// place. Used after a reconnect: the new session starts with a clean
// tally while known-bad keys stay excluded.
func (b *Breaker) ResetCounts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[string]int)
}

// Reset clears both the count and the tripped flag for one key.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, key)
	delete(b.tripped, key)
}

// TrippedKeys returns all keys whose breaker has tripped.
func (b *Breaker) TrippedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.tripped))
	for k := range b.tripped {
		keys = append(keys, k)
	}
	return keys
}
