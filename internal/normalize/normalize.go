// Package normalize holds the pure order transforms applied before any
// order reaches a venue: precision adjustment, lot splitting, synthetic leg
// derivation and hedge-mode position side resolution. Nothing here performs
// I/O or touches shared state.
package normalize

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeflow/models"
)

// ErrUnknownMarket is returned when an order references a market the
// connector has not loaded. It is the only normalization failure that is
// rejected instead of clamped.
var ErrUnknownMarket = errors.New("unknown market")

// Plan is the result of normalizing one order request: the precision
// adjusted lots to send, in order, and the resolved position side.
type Plan struct {
	Lots         []models.OrderRequest
	PositionSide models.PositionSide
}

// AdjustToStep floors value to the nearest multiple of step. Floor semantics
// keep an adjusted amount from ever exceeding venue limits. step <= 0 leaves
// the value untouched. The adjustment is idempotent.
func AdjustToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	out, _ := v.Div(s).Floor().Mul(s).Float64()
	return out
}

// AdjustPriceToTick rounds price to the nearest multiple of the tick size.
func AdjustPriceToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	out, _ := p.Div(t).Round(0).Mul(t).Float64()
	return out
}

// ClampLeverage bounds the requested leverage to the market's allowed range.
func ClampLeverage(market models.Market, leverage float64) float64 {
	min := market.Limits.Leverage.Min
	max := market.Limits.Leverage.Max
	if min > 0 && leverage < min {
		return min
	}
	if max > 0 && leverage > max {
		return max
	}
	return leverage
}

// ClampAmount bounds an amount to the market's minimum when one is set.
func ClampAmount(market models.Market, amount float64) float64 {
	if min := market.Limits.Amount.Min; min > 0 && amount < min {
		return min
	}
	return amount
}

// SplitLots divides amount into lots no larger than the market's maximum
// single-order size: full lots of equal floor-adjusted size plus one
// remainder lot when the division is not exact. The lot sizes sum to the
// adjusted amount within one precision step.
func SplitLots(market models.Market, amount float64) []float64 {
	step := market.Precision.Amount
	max := market.Limits.Amount.Max
	amount = AdjustToStep(amount, step)

	if max <= 0 || amount <= max {
		return []float64{amount}
	}

	a := decimal.NewFromFloat(amount)
	m := decimal.NewFromFloat(max)
	remainder := a.Mod(m)
	fullCount := a.Sub(remainder).Div(m).IntPart()

	each, _ := a.Sub(remainder).Div(decimal.NewFromInt(fullCount)).Float64()
	each = AdjustToStep(each, step)

	lots := make([]float64, 0, fullCount+1)
	for i := int64(0); i < fullCount; i++ {
		lots = append(lots, each)
	}
	rem, _ := remainder.Float64()
	if rem = AdjustToStep(rem, step); rem > 0 {
		lots = append(lots, rem)
	}
	return lots
}

// ResolvePositionSide maps an order to the position side it acts on. In
// hedge mode buy opens long and sell opens short, unless the order is
// reduce-only, in which case the mapping inverts: a reduce-only buy closes a
// short. One-way accounts always use the long row.
func ResolvePositionSide(side models.OrderSide, reduceOnly, hedged bool) models.PositionSide {
	if !hedged {
		return models.PositionSideLong
	}
	long := side == models.OrderSideBuy
	if reduceOnly {
		long = !long
	}
	if long {
		return models.PositionSideLong
	}
	return models.PositionSideShort
}

// Normalize runs the full pipeline for one request against its market:
// price/amount precision adjustment, amount clamping, lot splitting and
// position side resolution. Stop-loss/take-profit attachments are carried
// only on the first lot so trigger orders are not duplicated per lot.
func Normalize(market models.Market, req models.OrderRequest, hedged bool) (Plan, error) {
	if market.ID == "" {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownMarket, req.Symbol)
	}

	req.Price = AdjustPriceToTick(req.Price, market.Precision.Price)
	if req.StopLoss != nil {
		sl := AdjustPriceToTick(*req.StopLoss, market.Precision.Price)
		req.StopLoss = &sl
	}
	if req.TakeProfit != nil {
		tp := AdjustPriceToTick(*req.TakeProfit, market.Precision.Price)
		req.TakeProfit = &tp
	}

	amount := ClampAmount(market, req.Amount)
	sizes := SplitLots(market, amount)

	lots := make([]models.OrderRequest, 0, len(sizes))
	for i, size := range sizes {
		lot := req
		lot.Amount = size
		if i > 0 {
			lot.StopLoss = nil
			lot.TakeProfit = nil
			lot.TrailingStop = nil
		}
		lots = append(lots, lot)
	}

	return Plan{
		Lots:         lots,
		PositionSide: ResolvePositionSide(req.Side, req.ReduceOnly, hedged),
	}, nil
}

// SyntheticLegs derives the child orders for the stop-loss, take-profit and
// trailing-stop attachments of a placed parent order. Legs close the parent
// exposure, so they run the opposite side, reduce-only, for the full parent
// amount. The venue may track them as fields on the parent; locally they are
// independent orders linked through ParentID.
func SyntheticLegs(parent models.Order, req models.OrderRequest) []models.Order {
	opposite := models.OrderSideSell
	if parent.Side == models.OrderSideSell {
		opposite = models.OrderSideBuy
	}

	leg := func(kind models.LegKind, typ models.OrderType, price float64) models.Order {
		return models.Order{
			ID:         models.SyntheticOrderID(parent.ID, kind),
			ParentID:   parent.ID,
			Leg:        kind,
			Status:     models.OrderStatusOpen,
			Symbol:     parent.Symbol,
			Type:       typ,
			Side:       opposite,
			Price:      price,
			Amount:     parent.Amount,
			Remaining:  parent.Amount,
			ReduceOnly: true,
		}
	}

	var out []models.Order
	if req.StopLoss != nil {
		out = append(out, leg(models.LegStopLoss, models.OrderTypeStopMarket, *req.StopLoss))
	}
	if req.TakeProfit != nil {
		out = append(out, leg(models.LegTakeProfit, models.OrderTypeTakeProfitMarket, *req.TakeProfit))
	}
	if req.TrailingStop != nil {
		out = append(out, leg(models.LegTrailingStop, models.OrderTypeTrailingStop, *req.TrailingStop))
	}
	return out
}

// NewClientOrderID mints a venue-agnostic client order id.
func NewClientOrderID() string {
	return uuid.NewString()
}

// LotCount reports how many lots an amount will produce on a market without
// building the full plan.
func LotCount(market models.Market, amount float64) int {
	max := market.Limits.Amount.Max
	if max <= 0 || amount <= max {
		return 1
	}
	return int(math.Ceil(amount / max))
}
