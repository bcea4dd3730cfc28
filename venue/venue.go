// Package venue defines the contract between the connector engine and
// venue-specific adapters. Adapters own request signing, endpoints and field
// naming; the engine owns state, reconciliation and order decomposition.
package venue

import (
	"context"
	"errors"
	"net"
	"time"

	"tradeflow/internal/session"
	"tradeflow/models"
)

// StreamSink receives decoded push payloads from adapter sessions. The
// reconciler implements it; adapters never touch the store directly.
type StreamSink interface {
	OnOrderEvent(ev models.OrderEvent)
	OnPositionUpdate(positions []models.Position)
	OnBalanceUpdate(balance models.Balance)
	OnTickerPatch(id string, patch models.TickerPatch)
}

// Session is the narrow view of a connection session the connector manages.
type Session interface {
	Start(ctx context.Context) error
	Dispose()
	State() session.State
}

// Adapter is implemented once per venue.
type Adapter interface {
	Name() string

	FetchMarkets(ctx context.Context) ([]models.Market, error)
	FetchTickers(ctx context.Context) ([]models.Ticker, error)
	FetchBalance(ctx context.Context) (models.Balance, error)
	FetchPositions(ctx context.Context) ([]models.Position, error)
	FetchOrders(ctx context.Context) ([]models.Order, error)

	// PlaceOrder submits one already-normalized lot and returns the venue
	// order ids it produced.
	PlaceOrder(ctx context.Context, req models.OrderRequest) ([]string, error)
	CancelOrders(ctx context.Context, orders []models.Order) error
	CancelSymbolOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	// ConnectPublicSession and ConnectPrivateSession build, but do not
	// start, the venue's streaming sessions. onLatency receives heartbeat
	// round-trip estimates; it may be nil.
	ConnectPublicSession(sink StreamSink, onLatency func(ms int64)) (Session, error)
	ConnectPrivateSession(sink StreamSink, onLatency func(ms int64)) (Session, error)

	// HasPrivateStream reports whether the venue pushes order/balance
	// updates. When false the poll loop also refreshes orders.
	HasPrivateStream() bool

	// OrderStatuses and PositionSides are the venue-native vocabulary
	// translation tables consumed by the reconciler.
	OrderStatuses() map[string]models.OrderStatus
	PositionSides() map[string]models.PositionSide
}

const (
	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

// Retry runs fn up to a small fixed number of attempts, retrying only on
// network-class errors. Venue rejections surface immediately; retrying a
// signed mutation is the adapter's decision, so only idempotent fetches
// should go through here.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !isNetworkError(err) {
			return err
		}
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
