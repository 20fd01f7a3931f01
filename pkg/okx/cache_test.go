package okx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataCache_SetGet(t *testing.T) {
	c := newDataCache(time.Minute)
	key := tickerKey("BTC-USDT")

	c.set(key, []byte(`{"last":"43000"}`))

	value, age := c.get(key)
	require.NotNil(t, value)
	assert.Equal(t, []byte(`{"last":"43000"}`), value)
	assert.Less(t, age, time.Second)
}

func TestDataCache_Expiry(t *testing.T) {
	c := newDataCache(10 * time.Millisecond)
	key := tickerKey("BTC-USDT")

	c.set(key, "payload")
	time.Sleep(25 * time.Millisecond)

	value, _ := c.get(key)
	assert.Nil(t, value)
	assert.Equal(t, 0, c.len())
}

func TestDataCache_OverwriteRefreshes(t *testing.T) {
	c := newDataCache(30 * time.Millisecond)
	key := tickerKey("BTC-USDT")

	c.set(key, "old")
	time.Sleep(20 * time.Millisecond)
	c.set(key, "new")
	time.Sleep(20 * time.Millisecond)

	value, _ := c.get(key)
	assert.Equal(t, "new", value, "rewrite restarts the TTL")
}

func TestDataCache_DeleteAndClear(t *testing.T) {
	c := newDataCache(time.Minute)
	a, b := tickerKey("BTC-USDT"), tickerKey("ETH-USDT")

	c.set(a, 1)
	c.set(b, 2)
	assert.Equal(t, 2, c.len())

	c.delete(a)
	value, _ := c.get(a)
	assert.Nil(t, value)

	c.clear()
	assert.Equal(t, 0, c.len())
}

func TestDataCache_MissingKey(t *testing.T) {
	c := newDataCache(time.Minute)

	value, age := c.get(tickerKey("NOPE"))
	assert.Nil(t, value)
	assert.Zero(t, age)
}
