// Package binance implements the Binance USD-M futures adapter: signed REST
// through the official client, bookTicker/markPrice public streams and the
// listen-key user data stream.
package binance

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tradeflow/internal/clock"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/venue"
)

const (
	defaultStreamURL = "wss://fstream.binance.com"

	// Binance weights most of the endpoints we hit at 1-5; twenty requests
	// a second stays far inside the 2400/min account budget.
	defaultRequestsPerSecond = 20
	defaultBurst             = 40

	quoteAsset = "USDT"
)

// Config carries credentials and tuning for one adapter instance.
type Config struct {
	APIKey    string
	APISecret string

	// StreamURL overrides the production websocket base, e.g. for testnet.
	StreamURL string

	// Hedged sets the position side on outgoing orders. It must match the
	// dual-side setting of the account.
	Hedged bool

	// StreamSymbols are the markets the public session subscribes to.
	StreamSymbols []string

	RequestsPerSecond float64
	Burst             int
	PingInterval      time.Duration
}

// Adapter talks to Binance USD-M futures.
type Adapter struct {
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter
	clock   *clock.Clock
	log     *logger.Entry

	clockOnce sync.Once

	keyMu          sync.Mutex
	listenKey      string
	keepaliveStart atomic.Bool
}

// New builds an adapter. No network traffic happens until the first fetch.
func New(cfg Config) *Adapter {
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaultStreamURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}

	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	return &Adapter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		clock:   clock.New(),
		log:     logger.GetLogger().WithComponent("binance"),
	}
}

func (a *Adapter) Name() string { return "binance" }

// Clock exposes the server-synced clock, mostly for diagnostics.
func (a *Adapter) Clock() *clock.Clock { return a.clock }

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// syncClock aligns the local clock with the venue once, before the first
// market fetch. Signed requests tolerate small drift; large drift gets every
// request rejected with a timestamp error.
func (a *Adapter) syncClock(ctx context.Context) {
	a.clockOnce.Do(func() {
		serverTime, err := a.client.NewServerTimeService().Do(ctx)
		if err != nil {
			a.log.WithError(err).Warn("server time sync failed")
			return
		}
		a.clock.SyncMillis(serverTime)
		a.log.WithFields(logger.Fields{"offset": a.clock.Offset().String()}).Info("clock synced")
	})
}

func (a *Adapter) FetchMarkets(ctx context.Context) ([]models.Market, error) {
	a.syncClock(ctx)

	var info *futures.ExchangeInfo
	err := venue.Retry(ctx, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var err error
		info, err = a.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	markets := make([]models.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != quoteAsset {
			continue
		}
		markets = append(markets, mapMarket(s))
	}
	return markets, nil
}

func (a *Adapter) FetchTickers(ctx context.Context) ([]models.Ticker, error) {
	var stats []*futures.PriceChangeStats
	err := venue.Retry(ctx, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var err error
		stats, err = a.client.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("price change stats: %w", err)
	}

	tickers := make([]models.Ticker, 0, len(stats))
	for _, t := range stats {
		tickers = append(tickers, mapTicker(t))
	}
	return tickers, nil
}

func (a *Adapter) FetchBalance(ctx context.Context) (models.Balance, error) {
	var rows []*futures.Balance
	err := venue.Retry(ctx, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var err error
		rows, err = a.client.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return models.Balance{}, fmt.Errorf("balance: %w", err)
	}

	for _, row := range rows {
		if row.Asset != quoteAsset {
			continue
		}
		total := parseFloat(row.Balance)
		free := parseFloat(row.AvailableBalance)
		return models.Balance{
			Free:  free,
			Used:  total - free,
			Total: total,
			UPnl:  parseFloat(row.CrossUnPnl),
		}, nil
	}
	return models.Balance{}, nil
}

func (a *Adapter) FetchPositions(ctx context.Context) ([]models.Position, error) {
	var risks []*futures.PositionRisk
	err := venue.Retry(ctx, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var err error
		risks, err = a.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}

	positions := make([]models.Position, 0, len(risks))
	for _, p := range risks {
		if pos, ok := mapPosition(p, positionSides()); ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (a *Adapter) FetchOrders(ctx context.Context) ([]models.Order, error) {
	var rows []*futures.Order
	err := venue.Retry(ctx, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var err error
		rows, err = a.client.NewListOpenOrdersService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	statuses := orderStatuses()
	orders := make([]models.Order, 0, len(rows))
	for _, o := range rows {
		orders = append(orders, mapOrder(o, statuses))
	}
	return orders, nil
}

// PlaceOrder submits one normalized lot. A request carrying trigger prices
// produces the primary order plus one reduce-only conditional order per
// trigger, all on the venue's book; every created id is returned, primary
// first.
func (a *Adapter) PlaceOrder(ctx context.Context, req models.OrderRequest) ([]string, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toVenueSide(req.Side)).
		Type(toVenueType(req.Type)).
		Quantity(formatFloat(req.Amount)).
		NewClientOrderID("x-" + uuid.NewString())

	if req.Type == models.OrderTypeLimit {
		svc = svc.Price(formatFloat(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if a.cfg.Hedged {
		svc = svc.PositionSide(a.positionSide(req.Side, req.ReduceOnly))
	} else if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	ids := []string{strconv.FormatInt(resp.OrderID, 10)}

	exitSide := models.OrderSideSell
	if req.Side == models.OrderSideSell {
		exitSide = models.OrderSideBuy
	}

	if req.StopLoss != nil {
		id, err := a.placeTrigger(ctx, req, exitSide, futures.OrderTypeStopMarket, *req.StopLoss)
		if err != nil {
			return ids, fmt.Errorf("stop loss: %w", err)
		}
		ids = append(ids, id)
	}
	if req.TakeProfit != nil {
		id, err := a.placeTrigger(ctx, req, exitSide, futures.OrderTypeTakeProfitMarket, *req.TakeProfit)
		if err != nil {
			return ids, fmt.Errorf("take profit: %w", err)
		}
		ids = append(ids, id)
	}
	if req.TrailingStop != nil {
		id, err := a.placeTrailing(ctx, req, exitSide, *req.TrailingStop)
		if err != nil {
			return ids, fmt.Errorf("trailing stop: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// placeTrigger creates one reduce-only STOP_MARKET or TAKE_PROFIT_MARKET
// order covering the lot.
func (a *Adapter) placeTrigger(ctx context.Context, req models.OrderRequest, side models.OrderSide, orderType futures.OrderType, trigger float64) (string, error) {
	if err := a.wait(ctx); err != nil {
		return "", err
	}

	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toVenueSide(side)).
		Type(orderType).
		Quantity(formatFloat(req.Amount)).
		StopPrice(formatFloat(trigger)).
		NewClientOrderID("x-" + uuid.NewString())

	if a.cfg.Hedged {
		// Hedge mode rejects the reduceOnly flag; the exit nature follows
		// from closing the entry's position side.
		svc = svc.PositionSide(a.positionSide(req.Side, req.ReduceOnly))
	} else {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// placeTrailing creates one TRAILING_STOP_MARKET exit. Binance expresses the
// trail as a callback rate in percent, which is how the request carries it.
func (a *Adapter) placeTrailing(ctx context.Context, req models.OrderRequest, side models.OrderSide, callbackRate float64) (string, error) {
	if err := a.wait(ctx); err != nil {
		return "", err
	}

	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toVenueSide(side)).
		Type(futures.OrderTypeTrailingStopMarket).
		Quantity(formatFloat(req.Amount)).
		CallbackRate(formatFloat(callbackRate)).
		NewClientOrderID("x-" + uuid.NewString())

	if a.cfg.Hedged {
		svc = svc.PositionSide(a.positionSide(req.Side, req.ReduceOnly))
	} else {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// positionSide resolves the hedge-mode side an order acts on. A reduce-only
// request closes the opposite book, so the side inverts.
func (a *Adapter) positionSide(side models.OrderSide, reduceOnly bool) futures.PositionSideType {
	long := side == models.OrderSideBuy
	if reduceOnly {
		long = !long
	}
	if long {
		return futures.PositionSideTypeLong
	}
	return futures.PositionSideTypeShort
}

// CancelOrders cancels each order by its numeric venue id. Locally tracked
// synthetic ids that never reached the venue are skipped.
func (a *Adapter) CancelOrders(ctx context.Context, orders []models.Order) error {
	for _, o := range orders {
		id, err := strconv.ParseInt(o.ID, 10, 64)
		if err != nil {
			a.log.WithFields(logger.Fields{"order": o.ID}).Debug("skipping non-venue order id")
			continue
		}
		if err := a.wait(ctx); err != nil {
			return err
		}
		if _, err := a.client.NewCancelOrderService().Symbol(o.Symbol).OrderID(id).Do(ctx); err != nil {
			return fmt.Errorf("cancel order %d: %w", id, err)
		}
	}
	return nil
}

func (a *Adapter) CancelSymbolOrders(ctx context.Context, symbol string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if err := a.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel symbol orders: %w", err)
	}
	return nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(int(leverage)).Do(ctx); err != nil {
		return fmt.Errorf("change leverage: %w", err)
	}
	return nil
}

func (a *Adapter) HasPrivateStream() bool { return true }

func (a *Adapter) OrderStatuses() map[string]models.OrderStatus {
	return orderStatuses()
}

func (a *Adapter) PositionSides() map[string]models.PositionSide {
	return positionSides()
}
