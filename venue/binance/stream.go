package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"

	"tradeflow/internal/session"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/venue"
)

const (
	handshakeTimeout = 10 * time.Second

	// Binance expires a listen key after 60 minutes of silence.
	keepaliveInterval = 25 * time.Minute
)

// subscribeRequest is the live-subscription frame of the combined stream
// endpoint.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// combinedFrame is the envelope of the /stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type markPriceEvent struct {
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
}

// ConnectPublicSession builds the bookTicker/markPrice session. Subscriptions
// go out in OnConnect, so every reconnect re-subscribes the full topic set.
func (a *Adapter) ConnectPublicSession(sink venue.StreamSink, onLatency func(ms int64)) (venue.Session, error) {
	if len(a.cfg.StreamSymbols) == 0 {
		return nil, nil
	}

	params := make([]string, 0, 2*len(a.cfg.StreamSymbols))
	for _, sym := range a.cfg.StreamSymbols {
		s := strings.ToLower(sym)
		params = append(params, s+"@bookTicker", s+"@markPrice@1s")
	}

	return session.New(session.Config{
		Name:         "binance_public",
		URL:          a.cfg.StreamURL + "/stream",
		PingInterval: a.cfg.PingInterval,
		OnConnect: func(ctx context.Context, s *session.Session) error {
			return s.SendJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
		},
		Ping: func() (int, []byte) {
			return websocket.PingMessage, nil
		},
		OnLatency: onLatency,
		Routes: []session.Route{
			{
				Name:   "book_ticker",
				Match:  func(msg []byte) bool { return bytes.Contains(msg, []byte("@bookTicker")) },
				Handle: func(msg []byte) { a.handleBookTicker(sink, msg) },
			},
			{
				Name:   "mark_price",
				Match:  func(msg []byte) bool { return bytes.Contains(msg, []byte("@markPrice")) },
				Handle: func(msg []byte) { a.handleMarkPrice(sink, msg) },
			},
		},
	}), nil
}

func (a *Adapter) handleBookTicker(sink venue.StreamSink, msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		a.log.WithError(err).Debug("bad bookTicker frame")
		return
	}
	var ev bookTickerEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.Symbol == "" {
		return
	}
	logger.RecordTopicMessage("bookTicker", 1)

	bid := parseFloat(ev.Bid)
	ask := parseFloat(ev.Ask)
	sink.OnTickerPatch(ev.Symbol, models.TickerPatch{Bid: &bid, Ask: &ask})
}

func (a *Adapter) handleMarkPrice(sink venue.StreamSink, msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		a.log.WithError(err).Debug("bad markPrice frame")
		return
	}
	var ev markPriceEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.Symbol == "" {
		return
	}
	logger.RecordTopicMessage("markPrice", 1)

	mark := parseFloat(ev.MarkPrice)
	index := parseFloat(ev.IndexPrice)
	funding := parseFloat(ev.FundingRate)
	sink.OnTickerPatch(ev.Symbol, models.TickerPatch{Mark: &mark, Index: &index, FundingRate: &funding})
}

// userEvent probes the event discriminator of a user-data payload.
type userEvent struct {
	Event string `json:"e"`
}

type orderTradeUpdate struct {
	Order struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		Type         string `json:"o"`
		Quantity     string `json:"q"`
		Price        string `json:"p"`
		AvgPrice     string `json:"ap"`
		Status       string `json:"X"`
		OrderID      int64  `json:"i"`
		CumFilled    string `json:"z"`
		LastFillPx   string `json:"L"`
		ReduceOnly   bool   `json:"R"`
		PositionSide string `json:"ps"`
	} `json:"o"`
}

type accountUpdate struct {
	Data struct {
		Balances []struct {
			Asset         string `json:"a"`
			WalletBalance string `json:"wb"`
			CrossWallet   string `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol        string `json:"s"`
			Amount        string `json:"pa"`
			EntryPrice    string `json:"ep"`
			UnrealizedPnl string `json:"up"`
			Side          string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

// ConnectPrivateSession builds the user-data session. Each dial fetches a
// fresh listen key, so reconnects never reuse an expired one.
func (a *Adapter) ConnectPrivateSession(sink venue.StreamSink, onLatency func(ms int64)) (venue.Session, error) {
	if a.cfg.APIKey == "" {
		return nil, nil
	}

	return session.New(session.Config{
		Name:         "binance_private",
		PingInterval: a.cfg.PingInterval,
		Dial: func(ctx context.Context) (*websocket.Conn, error) {
			key, err := a.client.NewStartUserStreamService().Do(ctx)
			if err != nil {
				return nil, fmt.Errorf("start user stream: %w", err)
			}
			a.setListenKey(key)

			dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
			conn, _, err := dialer.DialContext(ctx, a.cfg.StreamURL+"/ws/"+key, nil)
			return conn, err
		},
		OnConnect: func(ctx context.Context, s *session.Session) error {
			if a.keepaliveStart.CompareAndSwap(false, true) {
				go a.keepaliveLoop(ctx)
			}
			return nil
		},
		Ping: func() (int, []byte) {
			return websocket.PingMessage, nil
		},
		OnLatency: onLatency,
		Routes: []session.Route{
			{
				Name:   "order_trade_update",
				Match:  matchEvent("ORDER_TRADE_UPDATE"),
				Handle: func(msg []byte) { a.handleOrderUpdate(sink, msg) },
			},
			{
				Name:   "account_update",
				Match:  matchEvent("ACCOUNT_UPDATE"),
				Handle: func(msg []byte) { a.handleAccountUpdate(sink, msg) },
			},
			{
				Name:  "listen_key_expired",
				Match: matchEvent("listenKeyExpired"),
				Handle: func(msg []byte) {
					// The read loop fails shortly after; the reconnect dial
					// fetches a fresh key.
					a.log.Warn("listen key expired")
				},
			},
		},
	}), nil
}

func matchEvent(name string) func(msg []byte) bool {
	needle := []byte(`"` + name + `"`)
	return func(msg []byte) bool {
		if !bytes.Contains(msg, needle) {
			return false
		}
		var probe userEvent
		return json.Unmarshal(msg, &probe) == nil && probe.Event == name
	}
}

func (a *Adapter) setListenKey(key string) {
	a.keyMu.Lock()
	a.listenKey = key
	a.keyMu.Unlock()
}

func (a *Adapter) currentListenKey() string {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	return a.listenKey
}

// keepaliveLoop refreshes the active listen key until the session context is
// canceled. One loop serves all reconnects of the session.
func (a *Adapter) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key := a.currentListenKey()
			if key == "" {
				continue
			}
			if err := a.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
				a.log.WithError(err).Warn("listen key keepalive failed")
			}
		}
	}
}

func (a *Adapter) handleOrderUpdate(sink venue.StreamSink, msg []byte) {
	var ev orderTradeUpdate
	if err := json.Unmarshal(msg, &ev); err != nil {
		a.log.WithError(err).Debug("bad order update frame")
		return
	}
	o := ev.Order

	kind, ok := eventKind(o.Status)
	if !ok {
		a.log.WithFields(logger.Fields{"status": o.Status}).Debug("ignoring order status")
		return
	}
	logger.RecordTopicMessage("orderUpdate", 1)

	side := models.OrderSideBuy
	if o.Side == "SELL" {
		side = models.OrderSideSell
	}

	price := parseFloat(o.AvgPrice)
	if price == 0 {
		price = parseFloat(o.Price)
	}
	amount := parseFloat(o.Quantity)
	filled := parseFloat(o.CumFilled)

	sink.OnOrderEvent(models.OrderEvent{
		Kind: kind,
		Order: models.Order{
			ID:         strconv.FormatInt(o.OrderID, 10),
			Status:     models.OrderStatus(o.Status),
			Symbol:     o.Symbol,
			Type:       mapOrderType(futures.OrderType(o.Type)),
			Side:       side,
			Price:      price,
			Amount:     amount,
			Filled:     filled,
			Remaining:  amount - filled,
			ReduceOnly: o.ReduceOnly,
		},
	})
}

func (a *Adapter) handleAccountUpdate(sink venue.StreamSink, msg []byte) {
	var ev accountUpdate
	if err := json.Unmarshal(msg, &ev); err != nil {
		a.log.WithError(err).Debug("bad account update frame")
		return
	}
	logger.RecordTopicMessage("accountUpdate", 1)

	for _, b := range ev.Data.Balances {
		if b.Asset != quoteAsset {
			continue
		}
		total := parseFloat(b.WalletBalance)
		free := parseFloat(b.CrossWallet)
		sink.OnBalanceUpdate(models.Balance{
			Free:  free,
			Used:  total - free,
			Total: total,
		})
	}

	if len(ev.Data.Positions) == 0 {
		return
	}
	positions := make([]models.Position, 0, len(ev.Data.Positions))
	for _, p := range ev.Data.Positions {
		amt := parseFloat(p.Amount)
		if amt < 0 {
			amt = -amt
		}
		positions = append(positions, models.Position{
			Symbol:        p.Symbol,
			Side:          models.PositionSide(p.Side),
			EntryPrice:    parseFloat(p.EntryPrice),
			UnrealizedPnl: parseFloat(p.UnrealizedPnl),
			Contracts:     amt,
		})
	}
	sink.OnPositionUpdate(positions)
}
