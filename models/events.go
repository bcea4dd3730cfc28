package models

// OrderEventKind classifies a private-stream order update after the adapter
// has translated the venue-native status vocabulary.
type OrderEventKind string

const (
	OrderEventNew             OrderEventKind = "new"
	OrderEventPartiallyFilled OrderEventKind = "partially_filled"
	OrderEventFilled          OrderEventKind = "filled"
	OrderEventCanceled        OrderEventKind = "canceled"
	OrderEventExpired         OrderEventKind = "expired"
	OrderEventDeactivated     OrderEventKind = "deactivated"
)

// OrderEvent is one decoded private-stream order update.
type OrderEvent struct {
	Kind  OrderEventKind `json:"kind"`
	Order Order          `json:"order"`
}

// FillEvent is published on the fill topic whenever an order trades.
type FillEvent struct {
	Side   OrderSide `json:"side"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Amount float64   `json:"amount"`
}

// LogSeverity grades log events published on the bus.
type LogSeverity string

const (
	SeverityInfo    LogSeverity = "info"
	SeverityWarning LogSeverity = "warning"
	SeverityError   LogSeverity = "error"
)

// LogEvent is published on the log topic for host applications that render
// connector activity without wiring into the logger directly.
type LogEvent struct {
	Message  string      `json:"message"`
	Severity LogSeverity `json:"severity"`
}

// OrderRequest is a caller-supplied order before normalization. Prices and
// amounts are venue-unadjusted; the normalizer applies precision, lot
// splitting and synthetic leg derivation before anything reaches a venue.
type OrderRequest struct {
	Symbol       string    `json:"symbol"`
	Type         OrderType `json:"type"`
	Side         OrderSide `json:"side"`
	Price        float64   `json:"price"`
	Amount       float64   `json:"amount"`
	ReduceOnly   bool      `json:"reduceOnly"`
	StopLoss     *float64  `json:"stopLoss,omitempty"`
	TakeProfit   *float64  `json:"takeProfit,omitempty"`
	TrailingStop *float64  `json:"trailingStop,omitempty"` // callback rate in percent
}
