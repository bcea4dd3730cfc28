// Package paper implements an in-memory venue for demos and integration
// tests. Market orders fill immediately against the last pushed price; limit
// and trigger orders rest until canceled. There are no streaming sessions,
// so the connector's poll loop carries all account updates.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/venue"
)

type Adapter struct {
	mu        sync.Mutex
	markets   []models.Market
	prices    map[string]float64
	balance   models.Balance
	orders    map[string]models.Order
	positions map[models.PositionKey]models.Position
	hedged    bool
	log       *logger.Entry
}

// New creates a paper venue with the given markets and starting balance.
func New(markets []models.Market, startingBalance float64) *Adapter {
	return &Adapter{
		markets:   markets,
		prices:    make(map[string]float64),
		balance:   models.Balance{Free: startingBalance, Total: startingBalance},
		orders:    make(map[string]models.Order),
		positions: make(map[models.PositionKey]models.Position),
		log:       logger.GetLogger().WithComponent("paper_venue"),
	}
}

func (a *Adapter) Name() string { return "paper" }

// SetHedged switches the venue's position bookkeeping mode.
func (a *Adapter) SetHedged(hedged bool) {
	a.mu.Lock()
	a.hedged = hedged
	a.mu.Unlock()
}

// PushPrice sets the mark price market orders fill at.
func (a *Adapter) PushPrice(symbol string, price float64) {
	a.mu.Lock()
	a.prices[symbol] = price
	a.mu.Unlock()
}

func (a *Adapter) FetchMarkets(ctx context.Context) ([]models.Market, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Market(nil), a.markets...), nil
}

func (a *Adapter) FetchTickers(ctx context.Context) ([]models.Ticker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Ticker, 0, len(a.markets))
	for _, m := range a.markets {
		price := a.prices[m.Symbol]
		out = append(out, models.Ticker{
			ID:     m.ID,
			Symbol: m.Symbol,
			Bid:    price,
			Ask:    price,
			Last:   price,
			Mark:   price,
		})
	}
	return out, nil
}

func (a *Adapter) FetchBalance(ctx context.Context) (models.Balance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (a *Adapter) FetchPositions(ctx context.Context) ([]models.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Position, 0, len(a.positions))
	for _, p := range a.positions {
		if p.Contracts == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *Adapter) FetchOrders(ctx context.Context) ([]models.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req models.OrderRequest) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.NewString()
	if req.Type == models.OrderTypeMarket {
		price, ok := a.prices[req.Symbol]
		if !ok {
			return nil, fmt.Errorf("paper venue has no price for %s", req.Symbol)
		}
		a.fillLocked(req, price)
		return []string{id}, nil
	}

	a.orders[id] = models.Order{
		ID:         id,
		Status:     models.OrderStatusOpen,
		Symbol:     req.Symbol,
		Type:       req.Type,
		Side:       req.Side,
		Price:      req.Price,
		Amount:     req.Amount,
		Remaining:  req.Amount,
		ReduceOnly: req.ReduceOnly,
	}
	return []string{id}, nil
}

// fillLocked applies one immediate fill to the venue's book.
func (a *Adapter) fillLocked(req models.OrderRequest, price float64) {
	side := models.PositionSideLong
	if a.hedged {
		long := req.Side == models.OrderSideBuy
		if req.ReduceOnly {
			long = !long
		}
		if !long {
			side = models.PositionSideShort
		}
	}

	key := models.PositionKey{Symbol: req.Symbol, Side: side}
	pos := a.positions[key]
	pos.Symbol = req.Symbol
	pos.Side = side
	if pos.Leverage == 0 {
		pos.Leverage = 1
	}

	delta := req.Amount
	if req.ReduceOnly || req.Side == models.OrderSideSell && !a.hedged {
		delta = -delta
	}
	pos.Contracts += delta
	if pos.Contracts < 0 {
		pos.Contracts = 0
	}
	if pos.Contracts > 0 {
		pos.EntryPrice = price
		pos.Notional = pos.Contracts * price
	} else {
		pos.EntryPrice = 0
		pos.Notional = 0
	}
	a.positions[key] = pos

	var used float64
	for _, p := range a.positions {
		if p.Leverage > 0 {
			used += p.Notional / p.Leverage
		}
	}
	a.balance.Used = used
	a.balance.Free = a.balance.Total - used
}

func (a *Adapter) CancelOrders(ctx context.Context, orders []models.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range orders {
		delete(a.orders, o.ID)
	}
	return nil
}

func (a *Adapter) CancelSymbolOrders(ctx context.Context, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, o := range a.orders {
		if o.Symbol == symbol {
			delete(a.orders, id)
		}
	}
	return nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, p := range a.positions {
		if key.Symbol == symbol {
			p.Leverage = leverage
			a.positions[key] = p
		}
	}
	return nil
}

func (a *Adapter) ConnectPublicSession(sink venue.StreamSink, onLatency func(ms int64)) (venue.Session, error) {
	return nil, nil
}

func (a *Adapter) ConnectPrivateSession(sink venue.StreamSink, onLatency func(ms int64)) (venue.Session, error) {
	return nil, nil
}

func (a *Adapter) HasPrivateStream() bool { return false }

func (a *Adapter) OrderStatuses() map[string]models.OrderStatus {
	return map[string]models.OrderStatus{}
}

func (a *Adapter) PositionSides() map[string]models.PositionSide {
	return map[string]models.PositionSide{}
}
