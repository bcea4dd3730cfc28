// Package connector exposes the venue-agnostic trading connector: one
// canonical state store fed by REST snapshots, streaming sessions and a poll
// backstop, with a normalization pipeline in front of order placement.
package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/normalize"
	"tradeflow/internal/poll"
	"tradeflow/internal/reconcile"
	"tradeflow/internal/store"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/venue"
)

// Options controls connector-level behavior.
type Options struct {
	// Hedged enables the venue's hedge mode position bookkeeping.
	Hedged bool
	// PollInterval is the minimum gap between poll loop iterations.
	PollInterval time.Duration
}

// Connector is the host application's entry point. One connector drives one
// venue adapter.
type Connector struct {
	adapter venue.Adapter
	opts    Options

	store *store.Store
	bus   *bus.Bus
	rec   *reconcile.Reconciler
	poll  *poll.Loop

	mu       sync.Mutex
	sessions []venue.Session
	unsub    func()

	started  atomic.Bool
	disposed atomic.Bool
	log      *logger.Entry
}

// New builds a connector around an adapter. The bus is caller-supplied so
// the host can subscribe to fill/error/log topics before Start.
func New(adapter venue.Adapter, eventBus *bus.Bus, opts Options) *Connector {
	st := store.New()
	c := &Connector{
		adapter: adapter,
		opts:    opts,
		store:   st,
		bus:     eventBus,
		rec: reconcile.New(st, eventBus, reconcile.Tables{
			OrderStatuses: adapter.OrderStatuses(),
			PositionSides: adapter.PositionSides(),
		}),
		log: logger.GetLogger().WithComponent("connector").WithFields(logger.Fields{
			"venue": adapter.Name(),
		}),
	}
	c.poll = poll.New(adapter, c.rec, opts.PollInterval)

	// Every store mutation becomes one update event on the bus.
	c.unsub = st.Subscribe(func(snap models.StoreData) {
		eventBus.Publish(bus.TopicUpdate, snap)
	})
	return c
}

// Start fetches the initial snapshots, opens the streaming sessions and
// launches the poll loop. A markets fetch failure aborts the start since
// nothing can be normalized without markets; other snapshot failures are
// reported on the error topic and left to the poll loop to repair.
func (c *Connector) Start(ctx context.Context) error {
	if c.disposed.Load() {
		return fmt.Errorf("connector already disposed")
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("connector already started")
	}

	c.store.SetSetting(store.SettingHedged, c.opts.Hedged)

	markets, err := c.adapter.FetchMarkets(ctx)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	c.applySnapshot(func() { c.rec.LoadMarkets(markets) })

	if tickers, err := c.adapter.FetchTickers(ctx); err != nil {
		c.rec.ReportError("fetch tickers", err)
	} else {
		c.applySnapshot(func() { c.rec.LoadTickers(tickers) })
	}
	if balance, err := c.adapter.FetchBalance(ctx); err != nil {
		c.rec.ReportError("fetch balance", err)
	} else {
		c.applySnapshot(func() { c.rec.LoadBalance(balance) })
	}
	if positions, err := c.adapter.FetchPositions(ctx); err != nil {
		c.rec.ReportError("fetch positions", err)
	} else {
		c.applySnapshot(func() { c.rec.LoadPositions(positions) })
	}
	if orders, err := c.adapter.FetchOrders(ctx); err != nil {
		c.rec.ReportError("fetch orders", err)
	} else {
		c.applySnapshot(func() { c.rec.LoadOrders(orders) })
	}

	public, err := c.adapter.ConnectPublicSession(c.rec, nil)
	if err != nil {
		return fmt.Errorf("connect public session: %w", err)
	}
	private, err := c.adapter.ConnectPrivateSession(c.rec, c.store.SetLatency)
	if err != nil {
		return fmt.Errorf("connect private session: %w", err)
	}

	c.mu.Lock()
	for _, s := range []venue.Session{public, private} {
		if s == nil {
			continue
		}
		c.sessions = append(c.sessions, s)
		if err := s.Start(ctx); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("start session: %w", err)
		}
	}
	c.mu.Unlock()

	c.poll.Start(ctx)
	c.log.Info("connector started")
	return nil
}

// applySnapshot applies a snapshot result unless the connector was disposed
// while the fetch was in flight; late results are discarded, not applied.
func (c *Connector) applySnapshot(apply func()) {
	if c.disposed.Load() {
		return
	}
	apply()
}

// Dispose tears down sessions and loops and clears the store. Idempotent;
// in-flight REST calls are not canceled, only their results are discarded.
func (c *Connector) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	sessions := c.sessions
	c.sessions = nil
	c.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
	c.poll.Dispose()
	c.store.Reset()
	if c.unsub != nil {
		c.unsub()
	}
	c.log.Info("connector disposed")
}

// Snapshot returns a copy of the current store state.
func (c *Connector) Snapshot() models.StoreData {
	return c.store.Snapshot()
}

// SubscribeStore registers a callback for every store mutation and returns
// an unsubscribe function.
func (c *Connector) SubscribeStore(cb func(models.StoreData)) func() {
	return c.store.Subscribe(cb)
}

// PlaceOrder normalizes one request and submits the resulting lots. The
// returned ids are the venue ids of the primary lots; synthetic stop-loss/
// take-profit legs are registered in the store under the first lot's id.
func (c *Connector) PlaceOrder(ctx context.Context, req models.OrderRequest) ([]string, error) {
	if c.disposed.Load() {
		return nil, fmt.Errorf("connector disposed")
	}

	market, ok := c.marketFor(req.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", normalize.ErrUnknownMarket, req.Symbol)
	}

	hedged := c.store.Snapshot().Options.IsHedged
	plan, err := normalize.Normalize(market, req, hedged)
	if err != nil {
		return nil, err
	}

	var ids []string
	for i, lot := range plan.Lots {
		lotIDs, err := c.adapter.PlaceOrder(ctx, lot)
		if err != nil {
			// Earlier lots are already live; surface the partial result.
			return ids, fmt.Errorf("place lot %d/%d: %w", i+1, len(plan.Lots), err)
		}
		if c.disposed.Load() {
			return ids, nil
		}
		ids = append(ids, lotIDs...)

		if i == 0 && len(lotIDs) > 0 {
			c.registerPrimary(lotIDs, lot)
		}
	}
	return ids, nil
}

// registerPrimary seeds the store with the first lot and its trigger legs so
// the host sees them before (or instead of) the venue's own push events; the
// later "new" push for the same id is an idempotent upsert. An adapter that
// books triggers as real venue orders returns their ids after the primary's,
// in stop-loss, take-profit, trailing order; those ids name the leg rows so
// venue events for the triggers address them directly. A leg keeps its
// synthetic id only when the venue does not track it independently.
func (c *Connector) registerPrimary(ids []string, lot models.OrderRequest) {
	parent := models.Order{
		ID:         ids[0],
		Status:     models.OrderStatusOpen,
		Symbol:     lot.Symbol,
		Type:       lot.Type,
		Side:       lot.Side,
		Price:      lot.Price,
		Amount:     lot.Amount,
		Remaining:  lot.Amount,
		ReduceOnly: lot.ReduceOnly,
	}
	legs := normalize.SyntheticLegs(parent, lot)
	for j := range legs {
		if j+1 < len(ids) {
			legs[j].ID = ids[j+1]
		}
	}
	c.store.AddOrUpdateOrders(append([]models.Order{parent}, legs...))
}

// PlaceOrders submits several requests in order, collecting all venue ids.
func (c *Connector) PlaceOrders(ctx context.Context, reqs []models.OrderRequest) ([]string, error) {
	var ids []string
	for _, req := range reqs {
		got, err := c.PlaceOrder(ctx, req)
		ids = append(ids, got...)
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// CancelOrders cancels the given orders on the venue and removes them, with
// their synthetic legs, from the store.
func (c *Connector) CancelOrders(ctx context.Context, orders []models.Order) error {
	if c.disposed.Load() {
		return fmt.Errorf("connector disposed")
	}
	if err := c.adapter.CancelOrders(ctx, orders); err != nil {
		return err
	}
	if c.disposed.Load() {
		return nil
	}

	var ids []string
	for _, o := range orders {
		ids = append(ids, o.ID)
		for _, child := range c.store.ChildOrders(o.ID) {
			ids = append(ids, child.ID)
		}
	}
	c.store.RemoveOrders(ids)
	return nil
}

// CancelSymbolOrders cancels every order on one symbol.
func (c *Connector) CancelSymbolOrders(ctx context.Context, symbol string) error {
	if c.disposed.Load() {
		return fmt.Errorf("connector disposed")
	}
	if err := c.adapter.CancelSymbolOrders(ctx, symbol); err != nil {
		return err
	}
	if c.disposed.Load() {
		return nil
	}

	var ids []string
	for id, o := range c.store.Snapshot().Orders {
		if o.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	c.store.RemoveOrders(ids)
	return nil
}

// SetLeverage clamps the requested leverage to the market's range, applies
// it on the venue and mirrors it onto the position rows.
func (c *Connector) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	if c.disposed.Load() {
		return fmt.Errorf("connector disposed")
	}
	market, ok := c.marketFor(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", normalize.ErrUnknownMarket, symbol)
	}

	leverage = normalize.ClampLeverage(market, leverage)
	if err := c.adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	if c.disposed.Load() {
		return nil
	}

	snap := c.store.Snapshot()
	var updated []models.Position
	for key, p := range snap.Positions {
		if key.Symbol == symbol {
			p.Leverage = leverage
			updated = append(updated, p)
		}
	}
	if updated == nil {
		// No row for the symbol yet: seed flat ones so the setting survives
		// until a position opens.
		updated = append(updated, models.Position{
			Symbol:   symbol,
			Side:     models.PositionSideLong,
			Leverage: leverage,
		})
		if snap.Options.IsHedged {
			updated = append(updated, models.Position{
				Symbol:   symbol,
				Side:     models.PositionSideShort,
				Leverage: leverage,
			})
		}
	}
	c.store.UpsertPositions(updated)
	return nil
}

// SetHedgedMode flips the hedge mode option. Position side bookkeeping of
// subsequent updates follows the new setting.
func (c *Connector) SetHedgedMode(hedged bool) {
	c.store.SetSetting(store.SettingHedged, hedged)
}

func (c *Connector) marketFor(symbol string) (models.Market, bool) {
	snap := c.store.Snapshot()
	if m, ok := snap.Markets[symbol]; ok {
		return m, true
	}
	for _, m := range snap.Markets {
		if m.Symbol == symbol {
			return m, true
		}
	}
	return models.Market{}, false
}
