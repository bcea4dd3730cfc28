package store

import (
	"sync"

	"tradeflow/models"
)

// Setting names accepted by SetSetting.
const (
	SettingHedged = "isHedged"
)

// Loaded categories accepted by MarkLoaded.
const (
	LoadedBalance   = "balance"
	LoadedMarkets   = "markets"
	LoadedTickers   = "tickers"
	LoadedOrders    = "orders"
	LoadedPositions = "positions"
)

// Store is the single source of truth for connector state. It has no network
// knowledge; sessions, the poll loop and the reconciler all write here and
// every mutation is visible to subscribers before the mutating call returns.
type Store struct {
	mu     sync.RWMutex
	data   models.StoreData
	subs   map[int]func(models.StoreData)
	nextID int
}

func New() *Store {
	return &Store{
		data: emptyData(),
		subs: make(map[int]func(models.StoreData)),
	}
}

func emptyData() models.StoreData {
	return models.StoreData{
		Markets:   make(map[string]models.Market),
		Tickers:   make(map[string]models.Ticker),
		Orders:    make(map[string]models.Order),
		Positions: make(map[models.PositionKey]models.Position),
	}
}

// Subscribe registers a callback invoked with the current snapshot on every
// mutation. It returns an unsubscribe function.
func (s *Store) Subscribe(cb func(models.StoreData)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.StoreData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() models.StoreData {
	out := s.data
	out.Markets = make(map[string]models.Market, len(s.data.Markets))
	for k, v := range s.data.Markets {
		out.Markets[k] = v
	}
	out.Tickers = make(map[string]models.Ticker, len(s.data.Tickers))
	for k, v := range s.data.Tickers {
		out.Tickers[k] = v
	}
	out.Orders = make(map[string]models.Order, len(s.data.Orders))
	for k, v := range s.data.Orders {
		out.Orders[k] = v
	}
	out.Positions = make(map[models.PositionKey]models.Position, len(s.data.Positions))
	for k, v := range s.data.Positions {
		out.Positions[k] = v
	}
	return out
}

// notifyLocked snapshots state and subscriber list under the lock, releases
// it, then invokes the callbacks synchronously. Callbacks may read the store
// again without deadlocking but see at least the mutation that triggered
// them.
func (s *Store) notifyLocked() {
	snap := s.copyLocked()
	cbs := make([]func(models.StoreData), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(snap)
	}

	s.mu.Lock()
}

// SetBalance replaces the account balance.
func (s *Store) SetBalance(b models.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Balance = b
	s.notifyLocked()
}

// SetMarkets replaces the markets collection wholesale.
func (s *Store) SetMarkets(markets []models.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Markets = make(map[string]models.Market, len(markets))
	for _, m := range markets {
		s.data.Markets[m.ID] = m
	}
	s.data.Loaded.Markets = true
	s.notifyLocked()
}

// SetTickers replaces the tickers collection wholesale.
func (s *Store) SetTickers(tickers []models.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Tickers = make(map[string]models.Ticker, len(tickers))
	for _, t := range tickers {
		s.data.Tickers[t.ID] = t
	}
	s.data.Loaded.Tickers = true
	s.notifyLocked()
}

// Market looks up a market by id.
func (s *Store) Market(id string) (models.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.Markets[id]
	return m, ok
}

// UpdateTicker patches a ticker by id. Unknown ids are ignored.
func (s *Store) UpdateTicker(id string, patch models.TickerPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tickers[id]
	if !ok {
		return
	}
	applyPatch(&t, patch)
	s.data.Tickers[id] = t
	s.notifyLocked()
}

func applyPatch(t *models.Ticker, p models.TickerPatch) {
	if p.Bid != nil {
		t.Bid = *p.Bid
	}
	if p.Ask != nil {
		t.Ask = *p.Ask
	}
	if p.Last != nil {
		t.Last = *p.Last
	}
	if p.Mark != nil {
		t.Mark = *p.Mark
	}
	if p.Index != nil {
		t.Index = *p.Index
	}
	if p.Percentage != nil {
		t.Percentage = *p.Percentage
	}
	if p.OpenInterest != nil {
		t.OpenInterest = *p.OpenInterest
	}
	if p.FundingRate != nil {
		t.FundingRate = *p.FundingRate
	}
	if p.Volume != nil {
		t.Volume = *p.Volume
	}
	if p.QuoteVolume != nil {
		t.QuoteVolume = *p.QuoteVolume
	}
}

// AddOrUpdateOrder upserts one order by id.
func (s *Store) AddOrUpdateOrder(o models.Order) {
	s.AddOrUpdateOrders([]models.Order{o})
}

// AddOrUpdateOrders upserts orders by id with a single notification for the
// whole batch. Remaining is always recomputed so that
// filled + remaining == amount holds after every mutation.
func (s *Store) AddOrUpdateOrders(orders []models.Order) {
	if len(orders) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		o.Remaining = o.Amount - o.Filled
		s.data.Orders[o.ID] = o
	}
	s.notifyLocked()
}

// ReplaceOrders swaps the whole orders collection for a snapshot load.
func (s *Store) ReplaceOrders(orders []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Orders = make(map[string]models.Order, len(orders))
	for _, o := range orders {
		o.Remaining = o.Amount - o.Filled
		s.data.Orders[o.ID] = o
	}
	s.data.Loaded.Orders = true
	s.notifyLocked()
}

// Order looks up an order by id.
func (s *Store) Order(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.Orders[id]
	return o, ok
}

// RemoveOrder deletes one order by id; absent ids are a no-op.
func (s *Store) RemoveOrder(id string) {
	s.RemoveOrders([]string{id})
}

// RemoveOrders deletes orders by id with one notification. Ids not present
// are skipped; if nothing was removed no notification fires.
func (s *Store) RemoveOrders(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, id := range ids {
		if _, ok := s.data.Orders[id]; ok {
			delete(s.data.Orders, id)
			removed = true
		}
	}
	if !removed {
		return
	}
	s.notifyLocked()
}

// ChildOrders returns the synthetic legs attached to a parent order id.
func (s *Store) ChildOrders(parentID string) []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Order
	for _, o := range s.data.Orders {
		if o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out
}

// UpsertPosition writes a position row by (symbol, side) key.
func (s *Store) UpsertPosition(p models.Position) {
	s.UpsertPositions([]models.Position{p})
}

// UpsertPositions writes position rows with a single notification.
func (s *Store) UpsertPositions(positions []models.Position) {
	if len(positions) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.data.Positions[p.Key()] = p
	}
	s.notifyLocked()
}

// Position looks up a position row by key.
func (s *Store) Position(key models.PositionKey) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.Positions[key]
	return p, ok
}

// MarkLoaded flips one readiness flag.
func (s *Store) MarkLoaded(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch category {
	case LoadedBalance:
		if s.data.Loaded.Balance {
			return
		}
		s.data.Loaded.Balance = true
	case LoadedMarkets:
		if s.data.Loaded.Markets {
			return
		}
		s.data.Loaded.Markets = true
	case LoadedTickers:
		if s.data.Loaded.Tickers {
			return
		}
		s.data.Loaded.Tickers = true
	case LoadedOrders:
		if s.data.Loaded.Orders {
			return
		}
		s.data.Loaded.Orders = true
	case LoadedPositions:
		if s.data.Loaded.Positions {
			return
		}
		s.data.Loaded.Positions = true
	default:
		return
	}
	s.notifyLocked()
}

// SetSetting updates a named boolean option, notifying only when the value
// actually changes to avoid redundant update events.
func (s *Store) SetSetting(name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case SettingHedged:
		if s.data.Options.IsHedged == value {
			return
		}
		s.data.Options.IsHedged = value
	default:
		return
	}
	s.notifyLocked()
}

// SetLatency records the heartbeat round-trip estimate in milliseconds.
func (s *Store) SetLatency(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Latency == ms {
		return
	}
	s.data.Latency = ms
	s.notifyLocked()
}

// Reset returns the store to its default empty state. Subscribers stay
// registered and observe the cleared snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = emptyData()
	s.notifyLocked()
}
