// Package terminalstate maintains an in-memory replica of a trading
// account's positions, orders, symbol specifications and latest prices,
// kept current by observing the synchronization packet stream (spec.md
// S4.7, component C7).
package terminalstate

import (
	"sort"
	"sync"

	"github.com/metaapi-go/sdk/packets"
)

// State is a SynchronizationListener that keeps a local replica of
// account state current. It is safe for concurrent reads from any
// goroutine while the dispatcher delivers updates from its own.
type State struct {
	packets.BaseListener

	denormalizePrices bool

	mu                 sync.RWMutex
	connected          bool
	brokerConnected    bool
	synchronized       bool
	accountInformation *packets.AccountInformation
	positions          map[string]packets.Position
	orders             map[string]packets.Order
	specifications     map[string]packets.SymbolSpecification
	prices             map[string]packets.Price
}

// New creates an empty replica. denormalizePrices mirrors the
// DenormalizePrices option (spec.md S9 Open Question, resolved false by
// default): when true, a symbol price update recomputes profit for
// every open position on that symbol using the symbol specification's
// contract size.
func New(denormalizePrices bool) *State {
	return &State{
		denormalizePrices: denormalizePrices,
		positions:         make(map[string]packets.Position),
		orders:            make(map[string]packets.Order),
		specifications:    make(map[string]packets.SymbolSpecification),
		prices:             make(map[string]packets.Price),
	}
}

// OnConnected marks the gateway connection as live.
func (s *State) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

// OnDisconnected marks the gateway connection as down and drops the
// synchronized flag; a reconnect must resynchronize before reads are
// trusted again.
func (s *State) OnDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.synchronized = false
}

// OnSynchronizationStarted clears account information, positions and
// orders ahead of a full resync. Symbol specifications and prices are
// kept.
func (s *State) OnSynchronizationStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronized = false
	s.accountInformation = nil
	s.positions = make(map[string]packets.Position)
	s.orders = make(map[string]packets.Order)
}

// OnAccountInformationUpdated replaces the account summary.
func (s *State) OnAccountInformationUpdated(info packets.AccountInformation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountInformation = &info
}

// OnPositionsReplaced replaces the full position set sent during sync.
func (s *State) OnPositionsReplaced(positions []packets.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]packets.Position, len(positions))
	for _, p := range positions {
		m[p.ID] = p
	}
	s.positions = m
}

// OnPositionUpdated upserts a single position (an incremental update
// packet, not part of the initial sync batch).
func (s *State) OnPositionUpdated(p packets.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
}

// OnPositionRemoved drops a closed position from the replica.
func (s *State) OnPositionRemoved(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
}

// OnOrdersReplaced replaces the full pending-order set sent during sync.
func (s *State) OnOrdersReplaced(orders []packets.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]packets.Order, len(orders))
	for _, o := range orders {
		m[o.ID] = o
	}
	s.orders = m
}

// OnOrderUpdated upserts a single pending order.
func (s *State) OnOrderUpdated(o packets.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// OnOrderCompleted drops a filled/cancelled order from the pending set.
func (s *State) OnOrderCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

// OnDealSynchronizationFinished marks the deal half of sync complete.
func (s *State) OnDealSynchronizationFinished(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronized = true
}

// OnOrderSynchronizationFinished is a no-op placeholder; the replica
// considers itself synchronized once deals finish, which always
// follows orders in the dispatch sequence (spec.md S4.6).
func (s *State) OnOrderSynchronizationFinished(string) {}

// OnBrokerConnectionStatusChanged tracks the broker-side leg reported
// inside `status` packets, distinct from the gateway's own connection.
func (s *State) OnBrokerConnectionStatusChanged(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerConnected = connected
}

// OnSymbolSpecificationUpdated upserts a symbol's trading metadata.
func (s *State) OnSymbolSpecificationUpdated(spec packets.SymbolSpecification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specifications[spec.Symbol] = spec
}

// OnSymbolPriceUpdated upserts the latest quote for a symbol and, when
// DenormalizePrices is enabled, updates the current price of every open
// position on that symbol. Profit is recomputed only when the symbol's
// specification is known.
func (s *State) OnSymbolPriceUpdated(p packets.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[p.Symbol] = p
	if !s.denormalizePrices {
		return
	}
	spec, hasSpec := s.specifications[p.Symbol]
	for id, pos := range s.positions {
		if pos.Symbol != p.Symbol {
			continue
		}
		pos.CurrentPrice = quoteForSide(pos.Type, p)
		if hasSpec {
			pos.Profit = denormalizedProfit(pos, spec)
		}
		s.positions[id] = pos
	}
}

func quoteForSide(side string, p packets.Price) float64 {
	if side == "POSITION_TYPE_SELL" {
		return p.Ask
	}
	return p.Bid
}

func denormalizedProfit(p packets.Position, spec packets.SymbolSpecification) float64 {
	direction := 1.0
	if p.Type == "POSITION_TYPE_SELL" {
		direction = -1.0
	}
	return direction * (p.CurrentPrice - p.OpenPrice) * p.Volume * spec.ContractSize
}

// AccountInformation returns the latest account summary, or nil if
// synchronization hasn't delivered one yet.
func (s *State) AccountInformation() *packets.AccountInformation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accountInformation == nil {
		return nil
	}
	info := *s.accountInformation
	return &info
}

// Positions returns a snapshot of open positions ordered by ID.
func (s *State) Positions() []packets.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]packets.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns a snapshot of pending orders ordered by ID.
func (s *State) Orders() []packets.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]packets.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Specification returns a symbol's trading metadata and whether it has
// been observed yet.
func (s *State) Specification(symbol string) (packets.SymbolSpecification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specifications[symbol]
	return spec, ok
}

// Price returns the latest quote for a symbol and whether one exists.
func (s *State) Price(symbol string) (packets.Price, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Connected reports whether the gateway connection is currently live.
func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// BrokerConnected reports the last `status`-reported broker leg state.
func (s *State) BrokerConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brokerConnected
}

// Synchronized reports whether the replica has completed its most
// recent full resync.
func (s *State) Synchronized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synchronized
}
