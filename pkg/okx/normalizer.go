package okx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// The exchange sends every numeric field as a string. Normalization
// parses them into exact decimals and epoch-millisecond timestamps,
// and is the only place wire field names appear.

func parseDecimal(s string) (apd.Decimal, error) {
	if s == "" {
		return apd.Decimal{}, nil
	}
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return apd.Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseInstType(s string) core.InstrumentType {
	switch s {
	case "SWAP":
		return core.InstTypeSwap
	case "FUTURES":
		return core.InstTypeFutures
	case "OPTION":
		return core.InstTypeOption
	default:
		return core.InstTypeSpot
	}
}

func parseSide(s string) core.OrderSide {
	if s == "sell" || s == "SELL" {
		return core.SideSell
	}
	return core.SideBuy
}

func parseOrderType(s string) core.OrderType {
	switch s {
	case "limit":
		return core.TypeLimit
	case "post_only":
		return core.TypePostOnly
	case "fok":
		return core.TypeFOK
	case "ioc":
		return core.TypeIOC
	default:
		return core.TypeMarket
	}
}

func parseOrderStatus(s string) core.OrderStatus {
	switch s {
	case "partially_filled":
		return core.StatusPartiallyFilled
	case "filled":
		return core.StatusFilled
	case "canceled", "mmp_canceled":
		return core.StatusCanceled
	default:
		return core.StatusLive
	}
}

type wireTicker struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	TS        string `json:"ts"`
}

func (w *wireTicker) normalize() (core.Ticker, error) {
	t := core.Ticker{
		InstID:    w.InstID,
		Timestamp: parseMillis(w.TS),
	}
	fields := []struct {
		dst *apd.Decimal
		src string
	}{
		{&t.Last, w.Last}, {&t.LastSize, w.LastSz},
		{&t.Ask, w.AskPx}, {&t.AskSize, w.AskSz},
		{&t.Bid, w.BidPx}, {&t.BidSize, w.BidSz},
		{&t.Open24h, w.Open24h}, {&t.High24h, w.High24h}, {&t.Low24h, w.Low24h},
		{&t.Volume24h, w.Vol24h}, {&t.VolumeCcy24h, w.VolCcy24h},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return core.Ticker{}, err
		}
		*f.dst = d
	}
	return t, nil
}

// Candles arrive as positional string arrays:
// [ts, open, high, low, close, vol, volCcy, volCcyQuote, confirm].
func normalizeCandle(instID string, row []string) (core.Candle, error) {
	if len(row) < 6 {
		return core.Candle{}, fmt.Errorf("candle row has %d fields, want at least 6", len(row))
	}
	c := core.Candle{
		InstID:    instID,
		Timestamp: parseMillis(row[0]),
	}
	fields := []struct {
		dst *apd.Decimal
		idx int
	}{
		{&c.Open, 1}, {&c.High, 2}, {&c.Low, 3}, {&c.Close, 4}, {&c.Volume, 5},
	}
	for _, f := range fields {
		d, err := parseDecimal(row[f.idx])
		if err != nil {
			return core.Candle{}, err
		}
		*f.dst = d
	}
	if len(row) > 6 {
		d, err := parseDecimal(row[6])
		if err != nil {
			return core.Candle{}, err
		}
		c.VolumeCcy = d
	}
	if len(row) > 8 {
		c.Confirmed = row[8] == "1"
	}
	return c, nil
}

type wireTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TS      string `json:"ts"`
}

func (w *wireTrade) normalize() (core.Trade, error) {
	px, err := parseDecimal(w.Px)
	if err != nil {
		return core.Trade{}, err
	}
	sz, err := parseDecimal(w.Sz)
	if err != nil {
		return core.Trade{}, err
	}
	return core.Trade{
		TradeID:   w.TradeID,
		InstID:    w.InstID,
		Side:      parseSide(w.Side),
		Price:     px,
		Size:      sz,
		Timestamp: parseMillis(w.TS),
	}, nil
}

// Book levels arrive as positional string arrays:
// [price, size, liquidated orders, order count].
type wireBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

func normalizeBookSide(rows [][]string) ([]core.BookLevel, error) {
	out := make([]core.BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("book level has %d fields, want at least 2", len(row))
		}
		px, err := parseDecimal(row[0])
		if err != nil {
			return nil, err
		}
		sz, err := parseDecimal(row[1])
		if err != nil {
			return nil, err
		}
		out = append(out, core.BookLevel{Price: px, Size: sz})
	}
	return out, nil
}

func (w *wireBook) normalize(instID string) (core.OrderBook, error) {
	bids, err := normalizeBookSide(w.Bids)
	if err != nil {
		return core.OrderBook{}, err
	}
	asks, err := normalizeBookSide(w.Asks)
	if err != nil {
		return core.OrderBook{}, err
	}
	return core.OrderBook{
		InstID:    instID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: parseMillis(w.TS),
	}, nil
}

type wireFundingRate struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

func (w *wireFundingRate) normalize() (core.FundingRate, error) {
	rate, err := parseDecimal(w.FundingRate)
	if err != nil {
		return core.FundingRate{}, err
	}
	next, err := parseDecimal(w.NextFundingRate)
	if err != nil {
		return core.FundingRate{}, err
	}
	return core.FundingRate{
		InstID:          w.InstID,
		Rate:            rate,
		NextRate:        next,
		FundingTime:     parseMillis(w.FundingTime),
		NextFundingTime: parseMillis(w.NextFundingTime),
	}, nil
}

type wireFundingRecord struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	RealizedRate    string `json:"realizedRate"`
	FundingTime     string `json:"fundingTime"`
}

func (w *wireFundingRecord) normalize() (core.FundingRateRecord, error) {
	rate, err := parseDecimal(w.FundingRate)
	if err != nil {
		return core.FundingRateRecord{}, err
	}
	realized, err := parseDecimal(w.RealizedRate)
	if err != nil {
		return core.FundingRateRecord{}, err
	}
	return core.FundingRateRecord{
		InstID:       w.InstID,
		Rate:         rate,
		RealizedRate: realized,
		FundingTime:  parseMillis(w.FundingTime),
	}, nil
}

type wireOpenInterest struct {
	InstID string `json:"instId"`
	OI     string `json:"oi"`
	OICcy  string `json:"oiCcy"`
	TS     string `json:"ts"`
}

func (w *wireOpenInterest) normalize() (core.OpenInterest, error) {
	oi, err := parseDecimal(w.OI)
	if err != nil {
		return core.OpenInterest{}, err
	}
	oiCcy, err := parseDecimal(w.OICcy)
	if err != nil {
		return core.OpenInterest{}, err
	}
	return core.OpenInterest{
		InstID:    w.InstID,
		Contracts: oi,
		Currency:  oiCcy,
		Timestamp: parseMillis(w.TS),
	}, nil
}

type wireInstrument struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	CtVal     string `json:"ctVal"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	State     string `json:"state"`
	ListTime  string `json:"listTime"`
	ExpTime   string `json:"expTime"`
}

func (w *wireInstrument) normalize() (core.Instrument, error) {
	inst := core.Instrument{
		InstID:    w.InstID,
		InstType:  parseInstType(w.InstType),
		BaseCcy:   w.BaseCcy,
		QuoteCcy:  w.QuoteCcy,
		SettleCcy: w.SettleCcy,
		State:     w.State,
		ListTime:  parseMillis(w.ListTime),
		ExpTime:   parseMillis(w.ExpTime),
	}
	fields := []struct {
		dst *apd.Decimal
		src string
	}{
		{&inst.ContractValue, w.CtVal},
		{&inst.TickSize, w.TickSz},
		{&inst.LotSize, w.LotSz},
		{&inst.MinSize, w.MinSz},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return core.Instrument{}, err
		}
		*f.dst = d
	}
	return inst, nil
}

type wireBalanceDetail struct {
	Ccy       string `json:"ccy"`
	Eq        string `json:"eq"`
	AvailEq   string `json:"availEq"`
	FrozenBal string `json:"frozenBal"`
}

type wireAccount struct {
	Details []wireBalanceDetail `json:"details"`
}

func (w *wireAccount) normalize() ([]core.Balance, error) {
	out := make([]core.Balance, 0, len(w.Details))
	for _, d := range w.Details {
		eq, err := parseDecimal(d.Eq)
		if err != nil {
			return nil, err
		}
		avail, err := parseDecimal(d.AvailEq)
		if err != nil {
			return nil, err
		}
		frozen, err := parseDecimal(d.FrozenBal)
		if err != nil {
			return nil, err
		}
		out = append(out, core.Balance{
			Currency:  d.Ccy,
			Equity:    eq,
			Available: avail,
			Frozen:    frozen,
		})
	}
	return out, nil
}

type wirePosition struct {
	InstID      string `json:"instId"`
	PosSide     string `json:"posSide"`
	Pos         string `json:"pos"`
	AvgPx       string `json:"avgPx"`
	MarkPx      string `json:"markPx"`
	NotionalUsd string `json:"notionalUsd"`
	Upl         string `json:"upl"`
	UplRatio    string `json:"uplRatio"`
	Margin      string `json:"margin"`
	Lever       string `json:"lever"`
}

func (w *wirePosition) normalize() (core.Position, error) {
	p := core.Position{
		InstID: w.InstID,
		Side:   w.PosSide,
	}
	fields := []struct {
		dst *apd.Decimal
		src string
	}{
		{&p.Size, w.Pos}, {&p.AvgPrice, w.AvgPx}, {&p.MarkPrice, w.MarkPx},
		{&p.NotionalUSD, w.NotionalUsd}, {&p.UnrealizedPnL, w.Upl},
		{&p.UnrealizedPnLRatio, w.UplRatio}, {&p.Margin, w.Margin},
		{&p.Leverage, w.Lever},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return core.Position{}, err
		}
		*f.dst = d
	}
	return p, nil
}

type wireOrder struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	State   string `json:"state"`
	FillSz  string `json:"accFillSz"`
	AvgPx   string `json:"avgPx"`
	CTime   string `json:"cTime"`
}

func (w *wireOrder) normalize() (core.Order, error) {
	o := core.Order{
		OrderID:       w.OrdID,
		ClientOrderID: w.ClOrdID,
		InstID:        w.InstID,
		Side:          parseSide(w.Side),
		Type:          parseOrderType(w.OrdType),
		Status:        parseOrderStatus(w.State),
		CreatedAt:     parseMillis(w.CTime),
	}
	fields := []struct {
		dst *apd.Decimal
		src string
	}{
		{&o.Price, w.Px}, {&o.Size, w.Sz},
		{&o.FilledSize, w.FillSz}, {&o.AvgPrice, w.AvgPx},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return core.Order{}, err
		}
		*f.dst = d
	}
	return o, nil
}

type wireAlgoOrder struct {
	AlgoID    string `json:"algoId"`
	InstID    string `json:"instId"`
	OrdType   string `json:"ordType"`
	Side      string `json:"side"`
	Sz        string `json:"sz"`
	TriggerPx string `json:"triggerPx"`
	OrdPx     string `json:"ordPx"`
	State     string `json:"state"`
}

func (w *wireAlgoOrder) normalize() (core.AlgoOrder, error) {
	a := core.AlgoOrder{
		AlgoID:    w.AlgoID,
		InstID:    w.InstID,
		OrderType: w.OrdType,
		Side:      parseSide(w.Side),
		State:     w.State,
	}
	fields := []struct {
		dst *apd.Decimal
		src string
	}{
		{&a.Size, w.Sz}, {&a.TriggerPrice, w.TriggerPx}, {&a.OrderPrice, w.OrdPx},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return core.AlgoOrder{}, err
		}
		*f.dst = d
	}
	return a, nil
}
