package paper

import (
	"context"
	"testing"

	"tradeflow/models"
)

func newTestAdapter() *Adapter {
	return New([]models.Market{
		{
			ID:     "BTCUSDT",
			Symbol: "BTC/USDT",
			Active: true,
		},
	}, 10_000)
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	a := newTestAdapter()
	a.PushPrice("BTC/USDT", 100)

	ids, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 2,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %d, want 1", len(ids))
	}

	positions, err := a.FetchPositions(context.Background())
	if err != nil {
		t.Fatalf("FetchPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.Contracts != 2 || p.EntryPrice != 100 {
		t.Errorf("position = %+v, want 2 contracts at 100", p)
	}

	balance, _ := a.FetchBalance(context.Background())
	if balance.Used != 200 {
		t.Errorf("used margin = %v, want 200", balance.Used)
	}
	if balance.Free != 9_800 {
		t.Errorf("free = %v, want 9800", balance.Free)
	}
}

func TestMarketOrderWithoutPriceFails(t *testing.T) {
	a := newTestAdapter()

	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1,
	}); err == nil {
		t.Error("expected error when no price was pushed")
	}
}

func TestLimitOrderRestsUntilCanceled(t *testing.T) {
	a := newTestAdapter()

	ids, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeLimit,
		Side:   models.OrderSideBuy,
		Price:  90,
		Amount: 1,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	orders, _ := a.FetchOrders(context.Background())
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1 resting order", len(orders))
	}
	if orders[0].Status != models.OrderStatusOpen {
		t.Errorf("status = %s, want open", orders[0].Status)
	}

	if err := a.CancelOrders(context.Background(), []models.Order{{ID: ids[0]}}); err != nil {
		t.Fatalf("CancelOrders failed: %v", err)
	}
	orders, _ = a.FetchOrders(context.Background())
	if len(orders) != 0 {
		t.Errorf("orders after cancel = %d, want 0", len(orders))
	}
}

func TestCancelSymbolOrders(t *testing.T) {
	a := newTestAdapter()

	for i := 0; i < 3; i++ {
		if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
			Symbol: "BTC/USDT",
			Type:   models.OrderTypeLimit,
			Side:   models.OrderSideBuy,
			Price:  90,
			Amount: 1,
		}); err != nil {
			t.Fatalf("PlaceOrder failed: %v", err)
		}
	}

	if err := a.CancelSymbolOrders(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("CancelSymbolOrders failed: %v", err)
	}
	orders, _ := a.FetchOrders(context.Background())
	if len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestReduceOnlyClosesPosition(t *testing.T) {
	a := newTestAdapter()
	a.PushPrice("BTC/USDT", 100)

	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 2,
	}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTC/USDT",
		Type:       models.OrderTypeMarket,
		Side:       models.OrderSideSell,
		Amount:     2,
		ReduceOnly: true,
	}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	positions, _ := a.FetchPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("positions after close = %d, want 0 (flat rows are omitted)", len(positions))
	}
}

func TestMarginAccumulatesAcrossPositions(t *testing.T) {
	a := newTestAdapter()
	a.SetHedged(true)
	a.PushPrice("BTC/USDT", 100)

	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1,
	}); err != nil {
		t.Fatalf("long failed: %v", err)
	}
	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideSell,
		Amount: 1,
	}); err != nil {
		t.Fatalf("short failed: %v", err)
	}

	balance, _ := a.FetchBalance(context.Background())
	if balance.Used != 200 {
		t.Errorf("used margin = %v, want both positions counted for 200", balance.Used)
	}
	if balance.Free != 9_800 {
		t.Errorf("free = %v, want 9800", balance.Free)
	}
	if balance.Total != balance.Free+balance.Used {
		t.Errorf("total %v != free %v + used %v", balance.Total, balance.Free, balance.Used)
	}
}

func TestHedgedModeKeepsSeparateSides(t *testing.T) {
	a := newTestAdapter()
	a.SetHedged(true)
	a.PushPrice("BTC/USDT", 100)

	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideBuy,
		Amount: 1,
	}); err != nil {
		t.Fatalf("long failed: %v", err)
	}
	if _, err := a.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   models.OrderTypeMarket,
		Side:   models.OrderSideSell,
		Amount: 1,
	}); err != nil {
		t.Fatalf("short failed: %v", err)
	}

	positions, _ := a.FetchPositions(context.Background())
	if len(positions) != 2 {
		t.Fatalf("positions = %d, want separate long and short rows", len(positions))
	}
	sides := map[models.PositionSide]bool{}
	for _, p := range positions {
		sides[p.Side] = true
	}
	if !sides[models.PositionSideLong] || !sides[models.PositionSideShort] {
		t.Errorf("sides = %v, want long and short", sides)
	}
}
