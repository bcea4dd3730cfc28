// Package session owns one logical WebSocket stream to a venue: the dial and
// reconnect lifecycle, the heartbeat/RTT machine and message dispatch. A
// session holds only the narrow callbacks it needs, never the connector that
// created it.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradeflow/logger"
)

// State tracks the connection lifecycle of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	defaultPingInterval     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Route pairs a structural payload predicate with its handler. Routes are
// evaluated in order; the first match wins and unmatched payloads are
// dropped silently.
type Route struct {
	Name   string
	Match  func(msg []byte) bool
	Handle func(msg []byte)
}

// Config wires a session to one venue stream.
type Config struct {
	// Name identifies the stream in logs, e.g. "binance_private".
	Name string
	// URL is the WebSocket endpoint. Ignored when Dial is set.
	URL string
	// Dial overrides the default dialer, e.g. to refresh signed URLs or
	// tokens per attempt.
	Dial func(ctx context.Context) (*websocket.Conn, error)
	// OnConnect runs after every (re)connect and re-issues authentication
	// and all active topic subscriptions.
	OnConnect func(ctx context.Context, s *Session) error
	// Ping returns the venue-specific heartbeat payload. nil disables the
	// application-level heartbeat.
	Ping func() (messageType int, payload []byte)
	// IsPong classifies an inbound payload as the heartbeat response.
	IsPong func(msg []byte) bool
	// PingInterval is the idle gap between heartbeats and also the liveness
	// timeout: a missing pong within it forces a reconnect.
	PingInterval time.Duration
	// Routes dispatch decoded messages to their handlers.
	Routes []Route
	// OnLatency receives the round-trip estimate in milliseconds.
	OnLatency func(ms int64)
}

// Session is one connection with automatic reconnect. Safe for concurrent
// Send from multiple goroutines.
type Session struct {
	cfg Config
	log *logger.Entry

	state    atomic.Int32
	disposed atomic.Bool

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
	pongCh chan struct{}
}

// New builds a session from its config. Start must be called to connect.
func New(cfg Config) *Session {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Session{
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("session").WithFields(logger.Fields{"stream": cfg.Name}),
		pongCh: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start launches the connect/read/heartbeat loops. It returns immediately;
// connectivity is reported through the session state and logs.
func (s *Session) Start(ctx context.Context) error {
	if s.disposed.Load() {
		return fmt.Errorf("session %s already disposed", s.cfg.Name)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
	return nil
}

// Dispose forces a close and a terminal Disconnected state with no further
// reconnect. It is idempotent.
func (s *Session) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(Closing))
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConn()
	s.wg.Wait()
	s.state.Store(int32(Disconnected))
	s.log.Info("session disposed")
}

// Send writes one message on the live connection.
func (s *Session) Send(messageType int, payload []byte) error {
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("session %s not connected", s.cfg.Name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.WriteMessage(messageType, payload)
}

// SendJSON marshals and writes one message on the live connection.
func (s *Session) SendJSON(v interface{}) error {
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("session %s not connected", s.cfg.Name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.WriteJSON(v)
}

func (s *Session) runLoop(ctx context.Context) {
	defer s.wg.Done()

	retry := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil || s.disposed.Load() {
			return
		}

		s.state.Store(int32(Connecting))
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("websocket connect failed")
			logger.IncrementReconnect()
			if waitReconnect(ctx, retry.Duration()) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		if s.cfg.OnConnect != nil {
			if err := s.cfg.OnConnect(ctx, s); err != nil {
				s.log.WithError(err).Warn("session handshake failed")
				s.closeConn()
				logger.IncrementReconnect()
				if waitReconnect(ctx, retry.Duration()) {
					return
				}
				continue
			}
		}

		s.state.Store(int32(Open))
		retry.Reset()
		s.log.Info("session connected")

		hbCtx, hbCancel := context.WithCancel(ctx)
		if s.cfg.Ping != nil {
			s.wg.Add(1)
			go s.heartbeatLoop(hbCtx)
		}

		s.readLoop(ctx, conn)
		hbCancel()
		s.closeConn()

		if ctx.Err() != nil || s.disposed.Load() {
			return
		}

		// The transport closed underneath us: log and go around again.
		s.state.Store(int32(Connecting))
		s.log.Warn("websocket closed, reconnecting")
		logger.IncrementReconnect()
		if waitReconnect(ctx, retry.Duration()) {
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(ctx)
	}
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	return conn, err
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		s.signalPong()
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !s.disposed.Load() {
				s.log.WithError(err).Warn("websocket read error")
			}
			return
		}
		s.dispatch(msg)
	}
}

// dispatch classifies one payload: heartbeat responses feed the RTT machine,
// everything else walks the route table in order.
func (s *Session) dispatch(msg []byte) {
	if s.cfg.IsPong != nil && s.cfg.IsPong(msg) {
		s.signalPong()
		return
	}
	for _, r := range s.cfg.Routes {
		if r.Match(msg) {
			r.Handle(msg)
			return
		}
	}
}

func (s *Session) signalPong() {
	select {
	case s.pongCh <- struct{}{}:
	default:
	}
}

// heartbeatLoop sends the venue ping, waits for the matching pong and
// reports latency = round(rtt/2). A pong that never arrives within the idle
// interval force-closes the connection so the reconnect path runs instead of
// waiting on the transport's own close detection.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	// Drain any pong left over from the previous connection.
	select {
	case <-s.pongCh:
	default:
	}

	for {
		msgType, payload := s.cfg.Ping()
		pingAt := time.Now()
		if err := s.Send(msgType, payload); err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("failed to send heartbeat")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.pongCh:
			latency := time.Since(pingAt) / 2
			ms := latency.Round(time.Millisecond).Milliseconds()
			if s.cfg.OnLatency != nil {
				s.cfg.OnLatency(ms)
			}
		case <-time.After(s.cfg.PingInterval):
			s.log.Warn("heartbeat timed out, forcing reconnect")
			s.closeConn()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PingInterval):
		}
	}
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func waitReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
