package core

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// InstrumentType represents the OKX instrument category.
type InstrumentType int

// Instrument type constants define the tradable product categories.
const (
	// InstTypeSpot indicates spot trading pairs.
	InstTypeSpot InstrumentType = iota
	// InstTypeSwap indicates perpetual swap contracts.
	InstTypeSwap
	// InstTypeFutures indicates dated futures contracts.
	InstTypeFutures
	// InstTypeOption indicates option contracts.
	InstTypeOption
)

// String returns the OKX wire representation of the instrument type.
func (t InstrumentType) String() string {
	return [...]string{"SPOT", "SWAP", "FUTURES", "OPTION"}[t]
}

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

const (
	// SideBuy indicates an order to purchase an asset.
	SideBuy OrderSide = iota
	// SideSell indicates an order to sell an asset.
	SideSell
)

// String returns the OKX wire representation of the order side.
func (s OrderSide) String() string {
	return [...]string{"buy", "sell"}[s]
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"buy"`, `"BUY"`:
		*s = SideBuy
	case `"sell"`, `"SELL"`:
		*s = SideSell
	}
	return nil
}

// OrderType represents how an order executes on the exchange.
type OrderType int

const (
	// TypeMarket executes immediately at the best available price.
	TypeMarket OrderType = iota
	// TypeLimit executes at a specified price or better.
	TypeLimit
	// TypePostOnly places a limit order that only adds liquidity.
	TypePostOnly
	// TypeFOK requires complete immediate execution or cancellation.
	TypeFOK
	// TypeIOC requires immediate execution; the unfilled portion is canceled.
	TypeIOC
)

// String returns the OKX wire representation of the order type.
func (t OrderType) String() string {
	return [...]string{"market", "limit", "post_only", "fok", "ioc"}[t]
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"market"`:
		*t = TypeMarket
	case `"limit"`:
		*t = TypeLimit
	case `"post_only"`:
		*t = TypePostOnly
	case `"fok"`:
		*t = TypeFOK
	case `"ioc"`:
		*t = TypeIOC
	}
	return nil
}

// OrderStatus represents the current state of an order.
type OrderStatus int

const (
	// StatusLive indicates the order is resting on the book.
	StatusLive OrderStatus = iota
	// StatusPartiallyFilled indicates the order has been partially filled.
	StatusPartiallyFilled
	// StatusFilled indicates the order has been completely filled.
	StatusFilled
	// StatusCanceled indicates the order has been canceled.
	StatusCanceled
)

// String returns the OKX wire representation of the order status.
func (s OrderStatus) String() string {
	return [...]string{"live", "partially_filled", "filled", "canceled"}[s]
}

// IsTerminal returns true if no further state changes are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// Instrument describes a tradable product and its trading rules.
type Instrument struct {
	// InstID is the instrument identifier (e.g., "BTC-USDT-SWAP").
	InstID string `json:"inst_id"`
	// InstType is the product category.
	InstType InstrumentType `json:"inst_type"`
	// BaseCcy is the base currency of the pair.
	BaseCcy string `json:"base_ccy"`
	// QuoteCcy is the quote currency of the pair.
	QuoteCcy string `json:"quote_ccy"`
	// SettleCcy is the settlement currency for derivatives.
	SettleCcy string `json:"settle_ccy"`
	// ContractValue is the value of one contract.
	ContractValue apd.Decimal `json:"contract_value"`
	// MinSize is the minimum order size.
	MinSize apd.Decimal `json:"min_size"`
	// LotSize is the order size increment.
	LotSize apd.Decimal `json:"lot_size"`
	// TickSize is the price increment.
	TickSize apd.Decimal `json:"tick_size"`
	// State is the instrument trading state ("live", "suspend", ...).
	State string `json:"state"`
	// ListTime is when the instrument was listed.
	ListTime time.Time `json:"list_time"`
	// ExpTime is the expiry time for dated contracts, zero otherwise.
	ExpTime time.Time `json:"exp_time"`
}

// Live reports whether the instrument is open for trading.
func (i *Instrument) Live() bool {
	return i.State == "live"
}

// Ticker represents real-time market data for an instrument.
type Ticker struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Last is the price of the most recent trade.
	Last apd.Decimal `json:"last"`
	// LastSize is the size of the most recent trade.
	LastSize apd.Decimal `json:"last_size"`
	// Bid is the highest price a buyer is willing to pay.
	Bid apd.Decimal `json:"bid"`
	// BidSize is the size available at the best bid.
	BidSize apd.Decimal `json:"bid_size"`
	// Ask is the lowest price a seller is willing to accept.
	Ask apd.Decimal `json:"ask"`
	// AskSize is the size available at the best ask.
	AskSize apd.Decimal `json:"ask_size"`
	// Open24h is the price 24 hours ago.
	Open24h apd.Decimal `json:"open_24h"`
	// High24h is the highest price in the last 24 hours.
	High24h apd.Decimal `json:"high_24h"`
	// Low24h is the lowest price in the last 24 hours.
	Low24h apd.Decimal `json:"low_24h"`
	// Volume24h is the 24 hour volume in contracts or base currency.
	Volume24h apd.Decimal `json:"volume_24h"`
	// VolumeCcy24h is the 24 hour volume in quote currency.
	VolumeCcy24h apd.Decimal `json:"volume_ccy_24h"`
	// Timestamp is when this ticker was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Candle represents one OHLCV bar for an instrument.
type Candle struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Timestamp is the start of the bar period.
	Timestamp time.Time `json:"timestamp"`
	// Open is the price at the start of the period.
	Open apd.Decimal `json:"open"`
	// High is the highest price during the period.
	High apd.Decimal `json:"high"`
	// Low is the lowest price during the period.
	Low apd.Decimal `json:"low"`
	// Close is the price at the end of the period.
	Close apd.Decimal `json:"close"`
	// Volume is the traded volume during the period.
	Volume apd.Decimal `json:"volume"`
	// VolumeCcy is the traded value in quote currency.
	VolumeCcy apd.Decimal `json:"volume_ccy"`
	// Confirmed is true once the bar is closed.
	Confirmed bool `json:"confirmed"`
}

// Trade represents a single public trade.
type Trade struct {
	// TradeID is the exchange-assigned trade identifier.
	TradeID string `json:"trade_id"`
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Side is the taker side of the trade.
	Side OrderSide `json:"side"`
	// Price is the execution price.
	Price apd.Decimal `json:"price"`
	// Size is the executed quantity.
	Size apd.Decimal `json:"size"`
	// Timestamp is when the trade executed.
	Timestamp time.Time `json:"timestamp"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	// Price is the level's price.
	Price apd.Decimal `json:"price"`
	// Size is the quantity resting at this price.
	Size apd.Decimal `json:"size"`
}

// OrderBook represents an order book snapshot or update.
type OrderBook struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Bids are buy levels, best first.
	Bids []BookLevel `json:"bids"`
	// Asks are sell levels, best first.
	Asks []BookLevel `json:"asks"`
	// Timestamp is when the book was generated.
	Timestamp time.Time `json:"timestamp"`
}

// FundingRate represents the current funding rate of a perpetual swap.
type FundingRate struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Rate is the current funding rate.
	Rate apd.Decimal `json:"rate"`
	// NextRate is the predicted rate for the next period, if published.
	NextRate apd.Decimal `json:"next_rate"`
	// FundingTime is when the current rate settles.
	FundingTime time.Time `json:"funding_time"`
	// NextFundingTime is when the following rate settles.
	NextFundingTime time.Time `json:"next_funding_time"`
}

// FundingRateRecord is one settled entry of funding rate history.
type FundingRateRecord struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Rate is the rate that was charged.
	Rate apd.Decimal `json:"rate"`
	// RealizedRate is the rate actually realized at settlement.
	RealizedRate apd.Decimal `json:"realized_rate"`
	// FundingTime is when this rate settled.
	FundingTime time.Time `json:"funding_time"`
}

// OpenInterest represents outstanding contract volume for an instrument.
type OpenInterest struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Contracts is the open interest in contracts.
	Contracts apd.Decimal `json:"contracts"`
	// Currency is the open interest in base currency.
	Currency apd.Decimal `json:"currency"`
	// Timestamp is when this snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
}

// Balance represents account balance for a single currency.
type Balance struct {
	// Currency is the asset symbol (e.g., "USDT").
	Currency string `json:"currency"`
	// Equity is the total equity in this currency.
	Equity apd.Decimal `json:"equity"`
	// Available is the equity available for trading.
	Available apd.Decimal `json:"available"`
	// Frozen is equity locked in open positions or orders.
	Frozen apd.Decimal `json:"frozen"`
}

// Position represents an open derivatives position.
type Position struct {
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Side is the position side ("long", "short" or "net").
	Side string `json:"side"`
	// Size is the position size in contracts, signed for net mode.
	Size apd.Decimal `json:"size"`
	// AvgPrice is the average entry price.
	AvgPrice apd.Decimal `json:"avg_price"`
	// MarkPrice is the current mark price.
	MarkPrice apd.Decimal `json:"mark_price"`
	// NotionalUSD is the position value in USD.
	NotionalUSD apd.Decimal `json:"notional_usd"`
	// UnrealizedPnL is the unrealized profit and loss.
	UnrealizedPnL apd.Decimal `json:"unrealized_pnl"`
	// UnrealizedPnLRatio is the unrealized PnL as a ratio of margin.
	UnrealizedPnLRatio apd.Decimal `json:"unrealized_pnl_ratio"`
	// Margin is the margin allocated to the position.
	Margin apd.Decimal `json:"margin"`
	// Leverage is the position leverage.
	Leverage apd.Decimal `json:"leverage"`
}

// Order represents an exchange order.
type Order struct {
	// OrderID is the exchange-assigned order identifier.
	OrderID string `json:"order_id"`
	// ClientOrderID is the client-assigned order identifier.
	ClientOrderID string `json:"client_order_id"`
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Price is the limit price for limit orders.
	Price apd.Decimal `json:"price"`
	// Size is the total order size.
	Size apd.Decimal `json:"size"`
	// FilledSize is the executed quantity.
	FilledSize apd.Decimal `json:"filled_size"`
	// AvgPrice is the average fill price.
	AvgPrice apd.Decimal `json:"avg_price"`
	// Status is the current order state.
	Status OrderStatus `json:"status"`
	// CreatedAt is when the order was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// OrderRequest describes a new order to place.
type OrderRequest struct {
	// InstID is the instrument to trade.
	InstID string `json:"inst_id"`
	// Side is the order direction.
	Side OrderSide `json:"side"`
	// Type is the execution type.
	Type OrderType `json:"type"`
	// Size is the order size.
	Size apd.Decimal `json:"size"`
	// Price is required for limit orders.
	Price apd.Decimal `json:"price"`
	// ClientOrderID is an optional client-assigned identifier.
	ClientOrderID string `json:"client_order_id,omitempty"`
	// Leverage, when positive, is applied before placing the order.
	Leverage int `json:"leverage,omitempty"`
}

// AlgoOrder represents a pending conditional (algo) order.
type AlgoOrder struct {
	// AlgoID is the exchange-assigned algo order identifier.
	AlgoID string `json:"algo_id"`
	// InstID is the instrument identifier.
	InstID string `json:"inst_id"`
	// OrderType is the algo order type (e.g., "conditional").
	OrderType string `json:"order_type"`
	// Side is the order direction.
	Side OrderSide `json:"side"`
	// Size is the order size.
	Size apd.Decimal `json:"size"`
	// TriggerPrice is the price that activates the order.
	TriggerPrice apd.Decimal `json:"trigger_price"`
	// OrderPrice is the price of the activated order.
	OrderPrice apd.Decimal `json:"order_price"`
	// State is the current algo order state.
	State string `json:"state"`
}
