package connector

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/models"
	"tradeflow/venue"
	"tradeflow/venue/paper"
)

func testMarkets() []models.Market {
	return []models.Market{
		{
			ID:     "BTCUSDT",
			Symbol: "BTC/USDT",
			Base:   "BTC",
			Quote:  "USDT",
			Active: true,
			Precision: models.PrecisionRange{
				Amount: 1,
				Price:  0.5,
			},
			Limits: models.MarketLimits{
				Amount:   models.MinMax{Min: 1, Max: 500},
				Leverage: models.MinMax{Min: 1, Max: 125},
			},
		},
	}
}

// newTestConnector starts a connector on a paper venue with a poll interval
// long enough that the backstop never interferes with assertions.
func newTestConnector(t *testing.T) (*Connector, *paper.Adapter, *bus.Bus) {
	t.Helper()

	adapter := paper.New(testMarkets(), 100_000)
	adapter.PushPrice("BTC/USDT", 100)

	eventBus := bus.New()
	conn := New(adapter, eventBus, Options{PollInterval: time.Hour})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(conn.Dispose)

	// The paper venue has no private stream, so the backstop's first cycle
	// replaces the orders collection. Let it pass before any test seeds the
	// store, then the hour-long interval keeps it out of the way.
	time.Sleep(50 * time.Millisecond)
	return conn, adapter, eventBus
}

func TestStartLoadsSnapshots(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	snap := conn.Snapshot()
	if len(snap.Markets) != 1 {
		t.Fatalf("markets = %d, want 1", len(snap.Markets))
	}
	if !snap.Loaded.Markets || !snap.Loaded.Balance {
		t.Error("loaded flags not set after start")
	}
	if snap.Balance.Total != 100_000 {
		t.Errorf("balance total = %v, want 100000", snap.Balance.Total)
	}
	if snap.Tickers["BTCUSDT"].Last != 100 {
		t.Errorf("ticker last = %v, want 100", snap.Tickers["BTCUSDT"].Last)
	}
}

func TestStartTwiceFails(t *testing.T) {
	conn, _, _ := newTestConnector(t)
	if err := conn.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestPlaceOrderSplitsLots(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	ids, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1250,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ids = %d, want 3 lots", len(ids))
	}
}

func TestPlaceOrderSeedsSyntheticLegs(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	sl := 95.0
	tp := 110.0
	ids, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTC/USDT",
		Type:       models.OrderTypeLimit,
		Side:       models.OrderSideBuy,
		Price:      99,
		Amount:     1250,
		StopLoss:   &sl,
		TakeProfit: &tp,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	snap := conn.Snapshot()
	primary := ids[0]

	var legs int
	for _, o := range snap.Orders {
		if o.ParentID == primary {
			legs++
			if !o.ReduceOnly || o.Side != models.OrderSideSell {
				t.Errorf("leg must be a reduce-only exit: %+v", o)
			}
		}
		if o.ParentID != "" && o.ParentID != primary {
			t.Errorf("leg attached to non-primary lot: %+v", o)
		}
	}
	if legs != 2 {
		t.Errorf("synthetic legs = %d, want 2 on the first lot only", legs)
	}
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	if _, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "DOGE/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1,
	}); err == nil {
		t.Error("expected unknown market error")
	}
}

func TestCancelOrdersRemovesChildren(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	sl := 95.0
	ids, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTC/USDT",
		Type:     models.OrderTypeLimit,
		Side:     models.OrderSideBuy,
		Price:    99,
		Amount:   10,
		StopLoss: &sl,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	primary, _ := conn.Snapshot().Orders[ids[0]]
	if err := conn.CancelOrders(context.Background(), []models.Order{primary}); err != nil {
		t.Fatalf("CancelOrders failed: %v", err)
	}

	if n := len(conn.Snapshot().Orders); n != 0 {
		t.Errorf("orders after cancel = %d, want 0", n)
	}
}

func TestSetLeverageClampsAndMirrors(t *testing.T) {
	conn, adapter, _ := newTestConnector(t)

	// Open a position so a row exists to receive the new leverage.
	if _, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 10,
	}); err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if err := conn.SetLeverage(context.Background(), "BTC/USDT", 500); err != nil {
		t.Fatalf("SetLeverage failed: %v", err)
	}

	positions, err := adapter.FetchPositions(context.Background())
	if err != nil {
		t.Fatalf("FetchPositions failed: %v", err)
	}
	if len(positions) == 0 {
		t.Fatal("no position opened")
	}
	for _, p := range positions {
		if p.Leverage != 125 {
			t.Errorf("position leverage = %v, want clamped 125", p.Leverage)
		}
	}
}

// triggerAdapter books stop-loss/take-profit/trailing triggers as real venue
// orders, returning every created id primary first.
type triggerAdapter struct {
	nextID int
}

func (f *triggerAdapter) Name() string { return "trigger" }

func (f *triggerAdapter) FetchMarkets(context.Context) ([]models.Market, error) {
	return testMarkets(), nil
}
func (f *triggerAdapter) FetchTickers(context.Context) ([]models.Ticker, error)     { return nil, nil }
func (f *triggerAdapter) FetchBalance(context.Context) (models.Balance, error)      { return models.Balance{}, nil }
func (f *triggerAdapter) FetchPositions(context.Context) ([]models.Position, error) { return nil, nil }
func (f *triggerAdapter) FetchOrders(context.Context) ([]models.Order, error)       { return nil, nil }

func (f *triggerAdapter) id() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *triggerAdapter) PlaceOrder(_ context.Context, req models.OrderRequest) ([]string, error) {
	ids := []string{f.id()}
	if req.StopLoss != nil {
		ids = append(ids, f.id())
	}
	if req.TakeProfit != nil {
		ids = append(ids, f.id())
	}
	if req.TrailingStop != nil {
		ids = append(ids, f.id())
	}
	return ids, nil
}

func (f *triggerAdapter) CancelOrders(context.Context, []models.Order) error { return nil }
func (f *triggerAdapter) CancelSymbolOrders(context.Context, string) error   { return nil }
func (f *triggerAdapter) SetLeverage(context.Context, string, float64) error { return nil }
func (f *triggerAdapter) HasPrivateStream() bool                             { return true }
func (f *triggerAdapter) OrderStatuses() map[string]models.OrderStatus       { return nil }
func (f *triggerAdapter) PositionSides() map[string]models.PositionSide      { return nil }
func (f *triggerAdapter) ConnectPublicSession(venue.StreamSink, func(ms int64)) (venue.Session, error) {
	return nil, nil
}
func (f *triggerAdapter) ConnectPrivateSession(venue.StreamSink, func(ms int64)) (venue.Session, error) {
	return nil, nil
}

func TestPlaceOrderBindsVenueTriggerIDs(t *testing.T) {
	conn := New(&triggerAdapter{}, bus.New(), Options{PollInterval: time.Hour})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(conn.Dispose)

	sl := 95.0
	tp := 110.0
	ids, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTC/USDT",
		Type:       models.OrderTypeLimit,
		Side:       models.OrderSideBuy,
		Price:      99,
		Amount:     10,
		StopLoss:   &sl,
		TakeProfit: &tp,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %d, want primary plus two triggers", len(ids))
	}

	// The venue tracks the triggers itself, so the store must hold exactly
	// one row per returned id and no extra synthetic rows.
	snap := conn.Snapshot()
	if len(snap.Orders) != 3 {
		t.Fatalf("orders = %d, want 3", len(snap.Orders))
	}
	for _, id := range ids[1:] {
		leg, ok := snap.Orders[id]
		if !ok {
			t.Fatalf("trigger id %s has no store row", id)
		}
		if leg.ParentID != ids[0] {
			t.Errorf("trigger %s parent = %s, want %s", id, leg.ParentID, ids[0])
		}
	}
	if _, ok := snap.Orders[models.SyntheticOrderID(ids[0], models.LegStopLoss)]; ok {
		t.Error("synthetic id minted for a venue-tracked trigger")
	}
}

func TestSetLeverageSeedsFlatRowWithoutPosition(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	if err := conn.SetLeverage(context.Background(), "BTC/USDT", 50); err != nil {
		t.Fatalf("SetLeverage failed: %v", err)
	}

	key := models.PositionKey{Symbol: "BTC/USDT", Side: models.PositionSideLong}
	p, ok := conn.Snapshot().Positions[key]
	if !ok {
		t.Fatal("no flat row seeded for the leverage setting")
	}
	if p.Contracts != 0 {
		t.Errorf("contracts = %v, want 0", p.Contracts)
	}
	if p.Leverage != 50 {
		t.Errorf("leverage = %v, want 50", p.Leverage)
	}
}

func TestDisposeIsIdempotentAndBlocksOperations(t *testing.T) {
	adapter := paper.New(testMarkets(), 1000)
	adapter.PushPrice("BTC/USDT", 100)
	conn := New(adapter, bus.New(), Options{PollInterval: time.Hour})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.Dispose()
	conn.Dispose()

	if n := len(conn.Snapshot().Orders); n != 0 {
		t.Errorf("store not cleared on dispose, %d orders", n)
	}
	if _, err := conn.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1,
	}); err == nil {
		t.Error("PlaceOrder after Dispose should fail")
	}
	if err := conn.Start(context.Background()); err == nil {
		t.Error("Start after Dispose should fail")
	}
}

func TestStoreUpdatesReachTheBus(t *testing.T) {
	adapter := paper.New(testMarkets(), 1000)
	adapter.PushPrice("BTC/USDT", 100)

	eventBus := bus.New()
	var updates atomic.Int64
	unsub := eventBus.Subscribe(bus.TopicUpdate, func(interface{}) { updates.Add(1) })
	defer unsub()

	conn := New(adapter, eventBus, Options{PollInterval: time.Hour})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer conn.Dispose()

	if updates.Load() == 0 {
		t.Error("no update events published during start")
	}
}

func TestSetHedgedMode(t *testing.T) {
	conn, _, _ := newTestConnector(t)

	conn.SetHedgedMode(true)
	if !conn.Snapshot().Options.IsHedged {
		t.Error("hedged mode not reflected in snapshot")
	}
}
