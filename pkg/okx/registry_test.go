package okx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func noopHandler(core.SubscriptionKey, json.RawMessage) {}

func tickerKey(instID string) core.SubscriptionKey {
	return core.SubscriptionKey{Channel: core.ChannelTickers, InstID: instID}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := newRegistry(5)
	key := tickerKey("BTC-USDT")

	require.True(t, r.add(key, noopHandler))
	assert.False(t, r.add(key, noopHandler), "duplicate add reports existing key")
	assert.NotNil(t, r.handler(key))
	assert.Equal(t, 1, r.len())

	require.True(t, r.remove(key))
	assert.False(t, r.remove(key), "double remove refused")
	assert.Nil(t, r.handler(key))
}

func TestRegistry_NewerHandlerSupersedes(t *testing.T) {
	r := newRegistry(5)
	key := tickerKey("BTC-USDT")

	var got string
	first := func(core.SubscriptionKey, json.RawMessage) { got = "first" }
	second := func(core.SubscriptionKey, json.RawMessage) { got = "second" }

	require.True(t, r.add(key, first))
	assert.False(t, r.add(key, second))

	r.handler(key)(key, nil)
	assert.Equal(t, "second", got)
	assert.Equal(t, 1, r.len())
}

func TestRegistry_QuarantineAfterThreshold(t *testing.T) {
	r := newRegistry(5)
	key := tickerKey("FAKE-USDT-SWAP")
	r.add(key, noopHandler)

	for i := 0; i < 4; i++ {
		assert.False(t, r.recordError(key))
	}
	assert.False(t, r.quarantined(key))

	assert.True(t, r.recordError(key), "fifth consecutive failure quarantines")
	assert.True(t, r.quarantined(key))
	assert.Contains(t, r.quarantinedKeys(), key.String())
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	r := newRegistry(3)
	key := tickerKey("BTC-USDT")
	r.add(key, noopHandler)

	r.recordError(key)
	r.recordError(key)
	r.recordSuccess(key)
	r.recordError(key)
	r.recordError(key)

	assert.False(t, r.quarantined(key), "count restarted after a success")
}

func TestRegistry_KeysKeepQuarantined(t *testing.T) {
	r := newRegistry(1)
	good := tickerKey("BTC-USDT")
	bad := tickerKey("FAKE-USDT")
	r.add(good, noopHandler)
	r.add(bad, noopHandler)

	r.recordError(bad)
	require.True(t, r.quarantined(bad))

	// Quarantine never drops the entry: the next reconnect still
	// replays it.
	assert.ElementsMatch(t, []core.SubscriptionKey{good, bad}, r.keys())
}

func TestRegistry_ReconnectResetsCountsNotFlags(t *testing.T) {
	r := newRegistry(5)
	quarantinedKey := tickerKey("DEAD-USDT")
	warmingKey := tickerKey("FLAKY-USDT")
	r.add(quarantinedKey, noopHandler)
	r.add(warmingKey, noopHandler)

	for i := 0; i < 5; i++ {
		r.recordError(quarantinedKey)
	}
	for i := 0; i < 4; i++ {
		r.recordError(warmingKey)
	}

	r.resetHealthCounts()

	assert.True(t, r.quarantined(quarantinedKey), "quarantine survives reconnect")
	assert.False(t, r.quarantined(warmingKey))

	// The fresh session needs five new failures to quarantine.
	for i := 0; i < 4; i++ {
		assert.False(t, r.recordError(warmingKey))
	}
	assert.True(t, r.recordError(warmingKey))
}

func TestRegistry_Release(t *testing.T) {
	r := newRegistry(1)
	key := tickerKey("BTC-USDT")
	r.add(key, noopHandler)

	r.recordError(key)
	require.True(t, r.quarantined(key))

	r.release(key)
	assert.False(t, r.quarantined(key))
	assert.ElementsMatch(t, []core.SubscriptionKey{key}, r.keys())
}
