package binance

import (
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"tradeflow/models"
)

// orderStatuses translates Binance futures order states into the canonical
// vocabulary. The reconciler consumes this table; the adapter never leaks
// venue-native strings past it.
func orderStatuses() map[string]models.OrderStatus {
	return map[string]models.OrderStatus{
		"NEW":              models.OrderStatusOpen,
		"PARTIALLY_FILLED": models.OrderStatusOpen,
		"FILLED":           models.OrderStatusClosed,
		"CANCELED":         models.OrderStatusCanceled,
		"EXPIRED":          models.OrderStatusCanceled,
	}
}

func positionSides() map[string]models.PositionSide {
	return map[string]models.PositionSide{
		"LONG":  models.PositionSideLong,
		"SHORT": models.PositionSideShort,
		"BOTH":  models.PositionSideLong,
	}
}

func eventKind(status string) (models.OrderEventKind, bool) {
	switch status {
	case "NEW":
		return models.OrderEventNew, true
	case "PARTIALLY_FILLED":
		return models.OrderEventPartiallyFilled, true
	case "FILLED":
		return models.OrderEventFilled, true
	case "CANCELED":
		return models.OrderEventCanceled, true
	case "EXPIRED":
		return models.OrderEventExpired, true
	default:
		return "", false
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func mapMarket(s futures.Symbol) models.Market {
	m := models.Market{
		ID:     s.Symbol,
		Symbol: s.BaseAsset + "/" + s.QuoteAsset,
		Base:   s.BaseAsset,
		Quote:  s.QuoteAsset,
		Active: s.Status == "TRADING",
		Limits: models.MarketLimits{
			Leverage: models.MinMax{Min: 1, Max: 125},
		},
	}
	if f := s.LotSizeFilter(); f != nil {
		m.Precision.Amount = parseFloat(f.StepSize)
		m.Limits.Amount.Min = parseFloat(f.MinQuantity)
		m.Limits.Amount.Max = parseFloat(f.MaxQuantity)
	}
	if f := s.PriceFilter(); f != nil {
		m.Precision.Price = parseFloat(f.TickSize)
	}
	return m
}

func mapTicker(t *futures.PriceChangeStats) models.Ticker {
	return models.Ticker{
		ID:          t.Symbol,
		Symbol:      t.Symbol,
		Last:        parseFloat(t.LastPrice),
		Percentage:  parseFloat(t.PriceChangePercent),
		Volume:      parseFloat(t.Volume),
		QuoteVolume: parseFloat(t.QuoteVolume),
	}
}

func mapPosition(p *futures.PositionRisk, sides map[string]models.PositionSide) (models.Position, bool) {
	amt := parseFloat(p.PositionAmt)
	if amt == 0 {
		return models.Position{}, false
	}

	side, ok := sides[p.PositionSide]
	if !ok {
		side = models.PositionSideLong
		if amt < 0 {
			side = models.PositionSideShort
		}
	}
	if amt < 0 {
		amt = -amt
	}

	return models.Position{
		Symbol:           p.Symbol,
		Side:             side,
		EntryPrice:       parseFloat(p.EntryPrice),
		Notional:         parseFloat(p.Notional),
		Leverage:         parseFloat(p.Leverage),
		UnrealizedPnl:    parseFloat(p.UnRealizedProfit),
		Contracts:        amt,
		LiquidationPrice: parseFloat(p.LiquidationPrice),
	}, true
}

func mapOrder(o *futures.Order, statuses map[string]models.OrderStatus) models.Order {
	status, ok := statuses[string(o.Status)]
	if !ok {
		status = models.OrderStatusOpen
	}

	side := models.OrderSideBuy
	if o.Side == futures.SideTypeSell {
		side = models.OrderSideSell
	}

	amount := parseFloat(o.OrigQuantity)
	filled := parseFloat(o.ExecutedQuantity)

	return models.Order{
		ID:         strconv.FormatInt(o.OrderID, 10),
		Status:     status,
		Symbol:     o.Symbol,
		Type:       mapOrderType(o.Type),
		Side:       side,
		Price:      parseFloat(o.Price),
		Amount:     amount,
		Filled:     filled,
		Remaining:  amount - filled,
		ReduceOnly: o.ReduceOnly,
	}
}

func mapOrderType(t futures.OrderType) models.OrderType {
	switch t {
	case futures.OrderTypeLimit:
		return models.OrderTypeLimit
	case futures.OrderTypeStopMarket:
		return models.OrderTypeStopMarket
	case futures.OrderTypeTakeProfitMarket:
		return models.OrderTypeTakeProfitMarket
	case futures.OrderTypeTrailingStopMarket:
		return models.OrderTypeTrailingStop
	default:
		return models.OrderTypeMarket
	}
}

func toVenueType(t models.OrderType) futures.OrderType {
	switch t {
	case models.OrderTypeLimit:
		return futures.OrderTypeLimit
	case models.OrderTypeStopMarket:
		return futures.OrderTypeStopMarket
	case models.OrderTypeTakeProfitMarket:
		return futures.OrderTypeTakeProfitMarket
	case models.OrderTypeTrailingStop:
		return futures.OrderTypeTrailingStopMarket
	default:
		return futures.OrderTypeMarket
	}
}

func toVenueSide(s models.OrderSide) futures.SideType {
	if s == models.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
