// Package poll implements the REST backstop loop: even with healthy push
// channels the connector periodically re-fetches account state so local and
// venue truth converge after missed events.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/internal/reconcile"
	"tradeflow/logger"
	"tradeflow/venue"
)

const defaultMinInterval = 5 * time.Second

// Loop re-fetches balance and positions each iteration, and orders too for
// adapters without a private push channel. Errors are reported on the error
// topic and never stop the next iteration.
type Loop struct {
	adapter     venue.Adapter
	rec         *reconcile.Reconciler
	minInterval time.Duration

	disposed atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *logger.Entry
}

func New(adapter venue.Adapter, rec *reconcile.Reconciler, minInterval time.Duration) *Loop {
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	return &Loop{
		adapter:     adapter,
		rec:         rec,
		minInterval: minInterval,
		log: logger.GetLogger().WithComponent("poll").WithFields(logger.Fields{
			"venue": adapter.Name(),
		}),
	}
}

// Start launches the loop. It reschedules itself until disposed.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
}

// Dispose stops the loop permanently. Idempotent; an iteration already in
// flight finishes but never reschedules.
func (l *Loop) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.log.Info("poll loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		// The disposed check gates every iteration; nothing runs after
		// Dispose wins the race.
		if l.disposed.Load() || ctx.Err() != nil {
			return
		}

		l.iterate(ctx)
		logger.IncrementPollCycle()

		timer := time.NewTimer(l.minInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) iterate(ctx context.Context) {
	if balance, err := l.adapter.FetchBalance(ctx); err != nil {
		l.rec.ReportError("fetch balance", err)
	} else if !l.disposed.Load() {
		l.rec.LoadBalance(balance)
	}

	if positions, err := l.adapter.FetchPositions(ctx); err != nil {
		l.rec.ReportError("fetch positions", err)
	} else if !l.disposed.Load() {
		l.rec.LoadPositions(positions)
	}

	if l.adapter.HasPrivateStream() {
		return
	}

	if orders, err := l.adapter.FetchOrders(ctx); err != nil {
		l.rec.ReportError("fetch orders", err)
	} else if !l.disposed.Load() {
		l.rec.LoadOrders(orders)
	}
}
