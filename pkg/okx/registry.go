package okx

import (
	"encoding/json"
	"sync"

	"nakula/internal/breaker"
	"nakula/pkg/core"
)

// MessageHandler receives decoded push payloads for one subscription.
// Handlers run on the connection's dispatch goroutine and must not
// block.
type MessageHandler func(key core.SubscriptionKey, data json.RawMessage)

// registry is the desired-subscription set. It survives disconnects:
// after a reconnect the connection manager replays every entry,
// quarantined ones included, so a symbol gets a fresh chance on every
// new session. Quarantine only changes how loudly its failures are
// reported.
type registry struct {
	mu       sync.RWMutex
	handlers map[core.SubscriptionKey]MessageHandler
	health   *breaker.Breaker
}

func newRegistry(quarantineThreshold int) *registry {
	return &registry{
		handlers: make(map[core.SubscriptionKey]MessageHandler),
		health:   breaker.New(quarantineThreshold),
	}
}

// add registers a handler. A newer handler for the same key supersedes
// the old one. Returns false when the key was already registered, in
// which case no new subscribe frame is needed.
func (r *registry) add(key core.SubscriptionKey, handler MessageHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.handlers[key]
	r.handlers[key] = handler
	return !exists
}

// remove unregisters a handler. Returns false if the key was unknown.
func (r *registry) remove(key core.SubscriptionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; !exists {
		return false
	}
	delete(r.handlers, key)
	return true
}

// handler returns the handler for a key, or nil.
func (r *registry) handler(key core.SubscriptionKey) MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[key]
}

// keys returns a snapshot of registered subscriptions. This is the
// replay set for resubscription; quarantined entries stay in it.
func (r *registry) keys() []core.SubscriptionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.SubscriptionKey, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// recordError counts one subscription failure against the key and
// reports whether this failure pushed it into quarantine.
func (r *registry) recordError(key core.SubscriptionKey) bool {
	return r.health.RecordFailure(key.String())
}

// recordSuccess clears the key's consecutive failure count.
func (r *registry) recordSuccess(key core.SubscriptionKey) {
	r.health.RecordSuccess(key.String())
}

// quarantined reports whether the key has failed past the threshold.
func (r *registry) quarantined(key core.SubscriptionKey) bool {
	return r.health.Tripped(key.String())
}

// release lifts a quarantine, making the key's failures loud again.
func (r *registry) release(key core.SubscriptionKey) {
	r.health.Reset(key.String())
}

// resetHealthCounts zeroes failure counts after a reconnect. The new
// session gets a clean tally; quarantine flags stay, so known-bad
// channels keep failing quietly until released.
func (r *registry) resetHealthCounts() {
	r.health.ResetCounts()
}

// quarantinedKeys lists every quarantined subscription.
func (r *registry) quarantinedKeys() []string {
	return r.health.TrippedKeys()
}
