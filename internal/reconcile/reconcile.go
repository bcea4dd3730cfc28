// Package reconcile folds REST snapshots and streamed deltas into the
// canonical store with idempotent, last-write-wins semantics per entity, and
// emits fill/error events on the bus.
package reconcile

import (
	"fmt"

	"tradeflow/internal/bus"
	"tradeflow/internal/store"
	"tradeflow/logger"
	"tradeflow/models"
)

// Tables carries the adapter-supplied vocabulary translations. A lookup miss
// leaves the value as-is, so adapters that already emit canonical values
// pass through unchanged.
type Tables struct {
	OrderStatuses map[string]models.OrderStatus
	PositionSides map[string]models.PositionSide
}

// Reconciler merges snapshot and stream data into the store. All methods are
// synchronous; the store's own locking makes concurrent callers safe.
type Reconciler struct {
	store  *store.Store
	bus    *bus.Bus
	tables Tables
	log    *logger.Entry
}

func New(st *store.Store, b *bus.Bus, tables Tables) *Reconciler {
	return &Reconciler{
		store:  st,
		bus:    b,
		tables: tables,
		log:    logger.GetLogger().WithComponent("reconciler"),
	}
}

func (r *Reconciler) orderStatus(s models.OrderStatus) models.OrderStatus {
	if mapped, ok := r.tables.OrderStatuses[string(s)]; ok {
		return mapped
	}
	return s
}

func (r *Reconciler) positionSide(s models.PositionSide) models.PositionSide {
	if mapped, ok := r.tables.PositionSides[string(s)]; ok {
		return mapped
	}
	return s
}

// LoadMarkets replaces the markets collection from a REST snapshot.
func (r *Reconciler) LoadMarkets(markets []models.Market) {
	r.store.SetMarkets(markets)
}

// LoadTickers replaces the tickers collection from a REST snapshot.
func (r *Reconciler) LoadTickers(tickers []models.Ticker) {
	r.store.SetTickers(tickers)
}

// LoadBalance applies a REST balance snapshot.
func (r *Reconciler) LoadBalance(b models.Balance) {
	r.store.SetBalance(b)
	r.store.MarkLoaded(store.LoadedBalance)
}

// LoadOrders replaces the orders collection wholesale from a REST snapshot.
func (r *Reconciler) LoadOrders(orders []models.Order) {
	for i := range orders {
		orders[i].Status = r.orderStatus(orders[i].Status)
	}
	r.store.ReplaceOrders(orders)
}

// LoadPositions applies a REST position snapshot. A snapshot is a full
// report, so a previously open position it omits has closed; a flat row is
// synthesized for it so the leverage setting survives.
func (r *Reconciler) LoadPositions(positions []models.Position) {
	positions = r.translatePositions(positions)
	positions = r.withFlatRows(positions)
	r.store.UpsertPositions(positions)
	r.store.MarkLoaded(store.LoadedPositions)
}

// OnOrderEvent folds one private-stream order update.
func (r *Reconciler) OnOrderEvent(ev models.OrderEvent) {
	o := ev.Order
	o.Status = r.orderStatus(o.Status)

	switch ev.Kind {
	case models.OrderEventNew:
		if o.Status == "" {
			o.Status = models.OrderStatusOpen
		}
		r.store.AddOrUpdateOrder(o)

	case models.OrderEventPartiallyFilled:
		// Some venues emit an empty partial-fill right after an order
		// replace; an event carrying neither price nor amount is that
		// artifact, not a trade.
		if o.Price == 0 && o.Amount == 0 {
			r.log.WithFields(logger.Fields{"order": o.ID}).Debug("discarding empty partial fill")
			return
		}
		prev, known := r.store.Order(o.ID)
		if !known {
			r.store.AddOrUpdateOrder(o)
			r.emitFill(o, o.Filled)
			return
		}
		delta := o.Filled - prev.Filled
		prev.Filled = o.Filled
		prev.Remaining = prev.Amount - prev.Filled
		if o.Price > 0 {
			prev.Price = o.Price
		}
		r.store.AddOrUpdateOrder(prev)
		r.emitFill(o, delta)

	case models.OrderEventFilled:
		if prev, ok := r.store.Order(o.ID); ok {
			r.emitFill(o, prev.Amount-prev.Filled)
		} else {
			r.emitFill(o, o.Amount)
		}
		r.removeWithChildren(o.ID)

	case models.OrderEventCanceled, models.OrderEventExpired, models.OrderEventDeactivated:
		r.removeWithChildren(o.ID)

	default:
		r.log.WithFields(logger.Fields{"kind": string(ev.Kind), "order": o.ID}).Debug("ignoring unknown order event")
	}
}

func (r *Reconciler) emitFill(o models.Order, amount float64) {
	if amount <= 0 {
		return
	}
	r.bus.Publish(bus.TopicFill, models.FillEvent{
		Side:   o.Side,
		Symbol: o.Symbol,
		Price:  o.Price,
		Amount: amount,
	})
}

// removeWithChildren deletes an order and, for a parent id, its synthetic
// legs: venues reissue stop-loss/take-profit orders under new ids, so stale
// children must not survive the parent.
func (r *Reconciler) removeWithChildren(id string) {
	ids := []string{id}
	for _, child := range r.store.ChildOrders(id) {
		ids = append(ids, child.ID)
	}
	r.store.RemoveOrders(ids)
}

// OnPositionUpdate folds a streamed position report. Streams push only the
// positions that changed, so exactly the reported rows are upserted; rows the
// update does not mention are left untouched.
func (r *Reconciler) OnPositionUpdate(positions []models.Position) {
	r.store.UpsertPositions(r.translatePositions(positions))
}

func (r *Reconciler) translatePositions(positions []models.Position) []models.Position {
	hedged := r.store.Snapshot().Options.IsHedged
	for i := range positions {
		positions[i].Side = r.positionSide(positions[i].Side)
		if !hedged {
			positions[i].Side = models.PositionSideLong
		}
	}
	return positions
}

// withFlatRows appends a Contracts=0 row, carrying the last known leverage,
// for every previously open position the report no longer mentions.
func (r *Reconciler) withFlatRows(positions []models.Position) []models.Position {
	reported := make(map[models.PositionKey]bool, len(positions))
	for _, p := range positions {
		reported[p.Key()] = true
	}

	snap := r.store.Snapshot()
	for key, prev := range snap.Positions {
		if reported[key] || prev.Contracts == 0 {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:   key.Symbol,
			Side:     key.Side,
			Leverage: prev.Leverage,
		})
	}
	return positions
}

// OnBalanceUpdate folds a streamed balance report.
func (r *Reconciler) OnBalanceUpdate(b models.Balance) {
	r.store.SetBalance(b)
	r.store.MarkLoaded(store.LoadedBalance)
}

// OnTickerPatch folds a public-stream ticker update. Unknown ids are
// ignored by the store.
func (r *Reconciler) OnTickerPatch(id string, patch models.TickerPatch) {
	r.store.UpdateTicker(id, patch)
}

// ReportError surfaces an adapter failure on the error topic so background
// loops never halt on a single failed refresh.
func (r *Reconciler) ReportError(op string, err error) {
	r.log.WithError(err).WithFields(logger.Fields{"operation": op}).Error("reconcile operation failed")
	r.bus.PublishError(fmt.Sprintf("%s: %v", op, err))
}
