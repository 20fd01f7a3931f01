package okx

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"

	"nakula/pkg/core"
)

// Typed subscription helpers. Each decodes the raw push payload into
// canonical types before invoking the callback; an undecodable row is
// logged and dropped so one malformed frame cannot break the caller.

// subscribeRows registers a handler that decodes the push payload as a
// row array and normalizes each row through fn.
func subscribeRows[W, T any](s *Stream, ctx context.Context, channel core.Channel, instID string, fn func(*W) (T, error), cb func(T)) error {
	return s.Subscribe(ctx, channel, instID, func(key core.SubscriptionKey, data json.RawMessage) {
		var rows []W
		if err := sonic.Unmarshal(data, &rows); err != nil {
			s.logger.Warn().Err(err).Stringer("key", key).Msg("undecodable push payload")
			return
		}
		for i := range rows {
			v, err := fn(&rows[i])
			if err != nil {
				s.logger.Warn().Err(err).Stringer("key", key).Msg("push row rejected")
				continue
			}
			cb(v)
		}
	})
}

// SubscribeTicker streams decoded ticker updates for one instrument.
func (s *Stream) SubscribeTicker(ctx context.Context, instID string, cb func(core.Ticker)) error {
	return subscribeRows(s, ctx, core.ChannelTickers, instID, (*wireTicker).normalize, cb)
}

// SubscribeTrades streams decoded public trades for one instrument.
func (s *Stream) SubscribeTrades(ctx context.Context, instID string, cb func(core.Trade)) error {
	return subscribeRows(s, ctx, core.ChannelTrades, instID, (*wireTrade).normalize, cb)
}

// SubscribeCandles streams decoded candles for one instrument and bar
// size ("1m", "1H", ...). Both open and confirmed bars are delivered;
// check Candle.Confirmed.
func (s *Stream) SubscribeCandles(ctx context.Context, instID, bar string, cb func(core.Candle)) error {
	fn := func(row *[]string) (core.Candle, error) {
		return normalizeCandle(instID, *row)
	}
	return subscribeRows(s, ctx, core.CandleChannel(bar), instID, fn, cb)
}

// SubscribeOrderBook streams decoded book snapshots and updates for one
// instrument.
func (s *Stream) SubscribeOrderBook(ctx context.Context, instID string, cb func(core.OrderBook)) error {
	fn := func(w *wireBook) (core.OrderBook, error) {
		return w.normalize(instID)
	}
	return subscribeRows(s, ctx, core.ChannelBooks, instID, fn, cb)
}

// SubscribeFundingRate streams decoded funding rate updates for one
// perpetual swap.
func (s *Stream) SubscribeFundingRate(ctx context.Context, instID string, cb func(core.FundingRate)) error {
	return subscribeRows(s, ctx, core.ChannelFundingRate, instID, (*wireFundingRate).normalize, cb)
}

// SubscribeOpenInterest streams decoded open interest updates for one
// instrument.
func (s *Stream) SubscribeOpenInterest(ctx context.Context, instID string, cb func(core.OpenInterest)) error {
	return subscribeRows(s, ctx, core.ChannelOpenInterest, instID, (*wireOpenInterest).normalize, cb)
}

// SubscribeAccount streams decoded balance updates. Requires
// credentials; the private connection logs in on first use.
func (s *Stream) SubscribeAccount(ctx context.Context, cb func([]core.Balance)) error {
	return subscribeRows(s, ctx, core.ChannelAccount, "", (*wireAccount).normalize, cb)
}

// SubscribePositions streams decoded position updates. Requires
// credentials.
func (s *Stream) SubscribePositions(ctx context.Context, cb func(core.Position)) error {
	return subscribeRows(s, ctx, core.ChannelPositions, "", (*wirePosition).normalize, cb)
}

// SubscribeOrders streams decoded order updates. Requires credentials.
func (s *Stream) SubscribeOrders(ctx context.Context, cb func(core.Order)) error {
	return subscribeRows(s, ctx, core.ChannelOrders, "", (*wireOrder).normalize, cb)
}
