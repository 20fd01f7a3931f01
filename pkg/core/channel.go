package core

// Channel is a named streaming category on the exchange.
type Channel string

// Public channels.
const (
	// ChannelTickers streams best bid/ask and last trade updates.
	ChannelTickers Channel = "tickers"
	// ChannelTrades streams public trades.
	ChannelTrades Channel = "trades"
	// ChannelBooks streams order book snapshots and updates.
	ChannelBooks Channel = "books"
	// ChannelFundingRate streams perpetual swap funding rates.
	ChannelFundingRate Channel = "funding-rate"
	// ChannelOpenInterest streams open interest updates.
	ChannelOpenInterest Channel = "open-interest"
)

// Private channels, available on an authenticated connection only.
const (
	// ChannelAccount streams balance updates.
	ChannelAccount Channel = "account"
	// ChannelPositions streams position updates.
	ChannelPositions Channel = "positions"
	// ChannelOrders streams order updates.
	ChannelOrders Channel = "orders"
)

// CandleChannel returns the candle channel for a bar size, e.g. "candle1m".
func CandleChannel(bar string) Channel {
	return Channel("candle" + bar)
}

// Private reports whether the channel requires an authenticated connection.
func (c Channel) Private() bool {
	switch c {
	case ChannelAccount, ChannelPositions, ChannelOrders:
		return true
	}
	return false
}

// SubscriptionKey identifies one (channel, instrument) subscription.
type SubscriptionKey struct {
	Channel Channel `json:"channel"`
	InstID  string  `json:"inst_id"`
}

// String returns the "channel:instId" form used in logs and cache keys.
func (k SubscriptionKey) String() string {
	return string(k.Channel) + ":" + k.InstID
}
