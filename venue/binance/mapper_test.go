package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"

	"tradeflow/models"
)

func TestMapMarket(t *testing.T) {
	s := futures.Symbol{
		Symbol:     "BTCUSDT",
		Status:     "TRADING",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		Filters: []map[string]interface{}{
			{
				"filterType": "LOT_SIZE",
				"stepSize":   "0.001",
				"minQty":     "0.001",
				"maxQty":     "500",
			},
			{
				"filterType": "PRICE_FILTER",
				"tickSize":   "0.10",
				"minPrice":   "0.10",
				"maxPrice":   "1000000",
			},
		},
	}

	m := mapMarket(s)
	if m.ID != "BTCUSDT" || m.Symbol != "BTC/USDT" {
		t.Errorf("identity = %s/%s", m.ID, m.Symbol)
	}
	if !m.Active {
		t.Error("TRADING symbol should be active")
	}
	if m.Precision.Amount != 0.001 {
		t.Errorf("amount step = %v, want 0.001", m.Precision.Amount)
	}
	if m.Precision.Price != 0.10 {
		t.Errorf("price tick = %v, want 0.10", m.Precision.Price)
	}
	if m.Limits.Amount.Max != 500 {
		t.Errorf("max amount = %v, want 500", m.Limits.Amount.Max)
	}
}

func TestMapPositionSkipsFlat(t *testing.T) {
	if _, ok := mapPosition(&futures.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0"}, positionSides()); ok {
		t.Error("flat position should be skipped")
	}
}

func TestMapPositionShortUsesAbsoluteContracts(t *testing.T) {
	p, ok := mapPosition(&futures.PositionRisk{
		Symbol:       "BTCUSDT",
		PositionAmt:  "-1.5",
		EntryPrice:   "100",
		Leverage:     "10",
		PositionSide: "BOTH",
	}, positionSides())
	if !ok {
		t.Fatal("position dropped")
	}
	if p.Contracts != 1.5 {
		t.Errorf("contracts = %v, want 1.5", p.Contracts)
	}
	if p.Leverage != 10 {
		t.Errorf("leverage = %v, want 10", p.Leverage)
	}
}

func TestMapOrder(t *testing.T) {
	o := mapOrder(&futures.Order{
		OrderID:          12345,
		Symbol:           "BTCUSDT",
		Status:           "PARTIALLY_FILLED",
		Side:             futures.SideTypeSell,
		Type:             futures.OrderTypeLimit,
		Price:            "100.5",
		OrigQuantity:     "10",
		ExecutedQuantity: "4",
		ReduceOnly:       true,
	}, orderStatuses())

	if o.ID != "12345" {
		t.Errorf("id = %s, want 12345", o.ID)
	}
	if o.Status != models.OrderStatusOpen {
		t.Errorf("status = %s, want open", o.Status)
	}
	if o.Side != models.OrderSideSell || o.Type != models.OrderTypeLimit {
		t.Errorf("side/type = %s/%s", o.Side, o.Type)
	}
	if o.Remaining != 6 {
		t.Errorf("remaining = %v, want 6", o.Remaining)
	}
	if !o.ReduceOnly {
		t.Error("reduce-only flag lost")
	}
}

func TestOrderStatusTable(t *testing.T) {
	statuses := orderStatuses()
	cases := map[string]models.OrderStatus{
		"NEW":              models.OrderStatusOpen,
		"PARTIALLY_FILLED": models.OrderStatusOpen,
		"FILLED":           models.OrderStatusClosed,
		"CANCELED":         models.OrderStatusCanceled,
		"EXPIRED":          models.OrderStatusCanceled,
	}
	for venueStatus, want := range cases {
		if got := statuses[venueStatus]; got != want {
			t.Errorf("status %s = %s, want %s", venueStatus, got, want)
		}
	}
}

func TestEventKind(t *testing.T) {
	if kind, ok := eventKind("FILLED"); !ok || kind != models.OrderEventFilled {
		t.Errorf("FILLED -> %s, %v", kind, ok)
	}
	if _, ok := eventKind("NEW_INSURANCE"); ok {
		t.Error("unknown status should not map to an event kind")
	}
}

func TestVenueTypeRoundTrip(t *testing.T) {
	types := []models.OrderType{
		models.OrderTypeMarket,
		models.OrderTypeLimit,
		models.OrderTypeStopMarket,
		models.OrderTypeTakeProfitMarket,
		models.OrderTypeTrailingStop,
	}
	for _, typ := range types {
		if got := mapOrderType(toVenueType(typ)); got != typ {
			t.Errorf("round trip %s -> %s", typ, got)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	if got := formatFloat(0.001); got != "0.001" {
		t.Errorf("formatFloat(0.001) = %s", got)
	}
	if got := formatFloat(500); got != "500" {
		t.Errorf("formatFloat(500) = %s", got)
	}
}
