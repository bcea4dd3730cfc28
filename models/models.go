package models

// OrderStatus is the canonical order state vocabulary. Venue-native states
// are translated into these values through adapter-supplied lookup tables.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderType enumerates the order types the connector can express.
type OrderType string

const (
	OrderTypeMarket           OrderType = "market"
	OrderTypeLimit            OrderType = "limit"
	OrderTypeStopMarket       OrderType = "stop_market"
	OrderTypeTakeProfitMarket OrderType = "take_profit_market"
	OrderTypeTrailingStop     OrderType = "trailing_stop_market"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide distinguishes long/short rows when hedge mode is active.
// It is normalized to PositionSideLong on one-way accounts.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// LegKind tags a synthetic child order derived from a parent order.
type LegKind string

const (
	LegStopLoss     LegKind = "stop_loss"
	LegTakeProfit   LegKind = "take_profit"
	LegTrailingStop LegKind = "trailing_stop"
)

// SyntheticOrderID renders the conventional `<parent>__<leg>` identifier for
// a synthetic leg. The suffix form is kept for display and venue round-trips;
// matching inside the engine always uses the explicit ParentID/LegKind fields.
func SyntheticOrderID(parentID string, leg LegKind) string {
	return parentID + "__" + string(leg)
}

// PrecisionRange holds a venue step size, not a decimal count.
type PrecisionRange struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// MinMax is a closed numeric range.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarketLimits groups the venue limits the engine enforces.
type MarketLimits struct {
	Amount   MinMax `json:"amount"`
	Leverage MinMax `json:"leverage"`
}

// Market describes one tradable instrument. Markets are immutable once
// loaded and replaced wholesale on refresh.
type Market struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Base      string         `json:"base"`
	Quote     string         `json:"quote"`
	Active    bool           `json:"active"`
	Precision PrecisionRange `json:"precision"`
	Limits    MarketLimits   `json:"limits"`
}

// Ticker carries the latest prices for one market. Different push channels
// update different fields, so tickers are patched partially, never replaced.
type Ticker struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Mark         float64 `json:"mark"`
	Index        float64 `json:"index"`
	Percentage   float64 `json:"percentage"`
	OpenInterest float64 `json:"openInterest"`
	FundingRate  float64 `json:"fundingRate"`
	Volume       float64 `json:"volume"`
	QuoteVolume  float64 `json:"quoteVolume"`
}

// TickerPatch is a partial ticker update. Only non-nil fields are applied.
type TickerPatch struct {
	Bid          *float64
	Ask          *float64
	Last         *float64
	Mark         *float64
	Index        *float64
	Percentage   *float64
	OpenInterest *float64
	FundingRate  *float64
	Volume       *float64
	QuoteVolume  *float64
}

// Order is the canonical representation of a live order. Synthetic legs the
// venue does not track independently carry a ParentID and a LegKind.
type Order struct {
	ID         string      `json:"id"`
	ParentID   string      `json:"parentId,omitempty"`
	Leg        LegKind     `json:"leg,omitempty"`
	Status     OrderStatus `json:"status"`
	Symbol     string      `json:"symbol"`
	Type       OrderType   `json:"type"`
	Side       OrderSide   `json:"side"`
	Price      float64     `json:"price"`
	Amount     float64     `json:"amount"`
	Filled     float64     `json:"filled"`
	Remaining  float64     `json:"remaining"`
	ReduceOnly bool        `json:"reduceOnly"`
}

// PositionKey identifies a position row. Side is part of the key so hedged
// accounts can hold a long and a short on the same symbol simultaneously.
type PositionKey struct {
	Symbol string       `json:"symbol"`
	Side   PositionSide `json:"side"`
}

// Position is one side of exposure on a market. Rows are never removed, only
// zeroed, so leverage settings survive across the flat state.
type Position struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	EntryPrice       float64      `json:"entryPrice"`
	Notional         float64      `json:"notional"`
	Leverage         float64      `json:"leverage"`
	UnrealizedPnl    float64      `json:"unrealizedPnl"`
	Contracts        float64      `json:"contracts"`
	LiquidationPrice float64      `json:"liquidationPrice"`
}

// Key returns the store key for this position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Side: p.Side}
}

// Balance is the account balance in the settlement currency.
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
	UPnl  float64 `json:"upnl"`
}

// LoadedFlags reports which snapshot categories have been fetched at least
// once since the connector started.
type LoadedFlags struct {
	Balance   bool `json:"balance"`
	Markets   bool `json:"markets"`
	Tickers   bool `json:"tickers"`
	Orders    bool `json:"orders"`
	Positions bool `json:"positions"`
}

// Options holds connector-level account settings.
type Options struct {
	IsHedged bool `json:"isHedged"`
}

// StoreData is the aggregate connector state handed to store subscribers.
// Maps are copied on snapshot; mutating a snapshot never affects the store.
type StoreData struct {
	Balance   Balance                  `json:"balance"`
	Markets   map[string]Market        `json:"markets"`
	Tickers   map[string]Ticker        `json:"tickers"`
	Orders    map[string]Order         `json:"orders"`
	Positions map[PositionKey]Position `json:"positions"`
	Loaded    LoadedFlags              `json:"loaded"`
	Options   Options                  `json:"options"`
	Latency   int64                    `json:"latency"` // round-trip estimate in ms
}
