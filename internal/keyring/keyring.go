// Package keyring holds the API credential set used to sign private
// requests and the websocket login. Multiple keys may be loaded;
// authentication failures rotate to the next healthy key and disable
// keys that keep failing.
package keyring

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nakula/pkg/core"
)

// Key is one credential set plus its health bookkeeping.
type Key struct {
	// ID labels the key in logs. Never log Key material itself.
	ID string
	// Credentials is the signing material.
	Credentials core.Credentials
	// Disabled excludes the key from rotation.
	Disabled bool
	// LastUsed is when the key last signed a request.
	LastUsed time.Time
	// AuthFailures counts consecutive authentication rejections.
	AuthFailures int
}

// Ring is a rotating set of API keys.
type Ring struct {
	mu          sync.Mutex
	keys        []*Key
	current     int
	maxFailures int
	logger      zerolog.Logger
}

// New creates a Ring over the given keys. Keys failing authentication
// maxFailures times in a row are disabled.
func New(keys []*Key, maxFailures int) *Ring {
	if maxFailures < 1 {
		maxFailures = 3
	}
	copied := make([]*Key, len(keys))
	for i, k := range keys {
		kc := *k
		copied[i] = &kc
	}
	return &Ring{
		keys:        copied,
		maxFailures: maxFailures,
		logger:      zerolog.Nop(),
	}
}

// FromCredentials creates a single-key Ring, the common case.
func FromCredentials(creds *core.Credentials, maxFailures int) *Ring {
	if creds.Empty() {
		return New(nil, maxFailures)
	}
	return New([]*Key{{ID: "primary", Credentials: *creds}}, maxFailures)
}

// SetLogger installs a logger. The default discards everything.
func (r *Ring) SetLogger(logger zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Current returns the active credentials, or nil when every key is
// disabled or the ring is empty.
func (r *Ring) Current() *core.Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.currentLocked()
	if k == nil {
		return nil
	}
	creds := k.Credentials
	return &creds
}

func (r *Ring) currentLocked() *Key {
	for i := 0; i < len(r.keys); i++ {
		idx := (r.current + i) % len(r.keys)
		if !r.keys[idx].Disabled {
			return r.keys[idx]
		}
	}
	return nil
}

// MarkUsed records a successful signing with the active key and clears
// its failure count.
func (r *Ring) MarkUsed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k := r.currentLocked(); k != nil {
		k.LastUsed = time.Now()
		k.AuthFailures = 0
	}
}

// OnAuthFailure records an authentication rejection against the active
// key, disables it when it hits the failure limit, and rotates to the
// next healthy key. Returns false when no healthy key remains.
func (r *Ring) OnAuthFailure() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.currentLocked()
	if k == nil {
		return false
	}

	k.AuthFailures++
	if k.AuthFailures >= r.maxFailures {
		k.Disabled = true
		r.logger.Warn().Str("key_id", k.ID).Int("failures", k.AuthFailures).
			Msg("api key disabled after repeated auth failures")
	}

	r.rotateLocked()
	return r.currentLocked() != nil
}

func (r *Ring) rotateLocked() {
	if len(r.keys) == 0 {
		return
	}
	start := r.current
	for {
		r.current = (r.current + 1) % len(r.keys)
		if !r.keys[r.current].Disabled || r.current == start {
			return
		}
	}
}

// Enable re-enables a disabled key by ID and clears its failure count.
func (r *Ring) Enable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.keys {
		if k.ID == id {
			k.Disabled = false
			k.AuthFailures = 0
			return
		}
	}
}

// Healthy reports whether at least one key is usable.
func (r *Ring) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked() != nil
}

// Len returns the total number of keys, disabled ones included.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
