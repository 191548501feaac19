package store

import (
	"context"
	"sort"
	"sync"

	"PerpIndex/internal/event"
	"PerpIndex/internal/state"
)

// Memory is the in-memory Store used by the client mirror and by tests.
// Safe for concurrent use. ApplyWrites is trivially atomic: the whole set
// is committed under one lock.
type Memory struct {
	mu          sync.RWMutex
	markets     map[string]state.Market   // marketIndex
	trades      map[event.ID]state.Trade
	positions   map[string]state.Position // positionID (engine-scoped ids)
	holdings    map[state.HoldingKey]state.UserHolding
	pricePoints []state.PricePoint
	cursor      uint64
	hasCursor   bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.markets = make(map[string]state.Market)
	m.trades = make(map[event.ID]state.Trade)
	m.positions = make(map[string]state.Position)
	m.holdings = make(map[state.HoldingKey]state.UserHolding)
	m.pricePoints = nil
}

func (m *Memory) ApplyWrites(_ context.Context, ws *state.WriteSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws.Market != nil {
		m.markets[ws.Market.MarketIndex] = *ws.Market
	}
	if ws.Trade != nil {
		m.trades[ws.Trade.Identity()] = *ws.Trade
	}
	if ws.Position != nil {
		m.positions[ws.Position.PositionID] = *ws.Position
	}
	if ws.Transition != nil {
		if pos, ok := m.positions[ws.Transition.PositionID]; ok && pos.Status == state.StatusOpen {
			pos.Status = ws.Transition.Status
			pos.AvgClosePrice = ws.Transition.AvgClosePrice
			pos.RealizedPnl = ws.Transition.RealizedPnl
			pos.ClosedAt = ws.Transition.ClosedAt
			m.positions[ws.Transition.PositionID] = pos
		}
	}
	if ws.PricePoint != nil {
		m.upsertPricePoint(*ws.PricePoint)
	}
	if ws.Holding != nil {
		m.holdings[ws.Holding.Key()] = *ws.Holding
	}
	if ws.Cursor != nil {
		m.cursor = *ws.Cursor
		m.hasCursor = true
	}
	return nil
}

func (m *Memory) upsertPricePoint(pp state.PricePoint) {
	for i, existing := range m.pricePoints {
		if existing.Engine == pp.Engine &&
			existing.BlockNumber == pp.BlockNumber &&
			existing.LogIndex == pp.LogIndex {
			m.pricePoints[i] = pp
			return
		}
	}
	m.pricePoints = append(m.pricePoints, pp)
}

func (m *Memory) HasTrade(_ context.Context, id event.ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trades[id]
	return ok, nil
}

func (m *Memory) GetHolding(_ context.Context, user, engine string) (state.UserHolding, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[state.HoldingKey{User: user, Engine: engine}]
	return h, ok, nil
}

func (m *Memory) GetUserPositions(_ context.Context, user string) ([]state.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.Position
	for _, p := range m.positions {
		if p.User == user {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

func (m *Memory) GetPositionsByMarket(_ context.Context, engine string) ([]state.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.Position
	for _, p := range m.positions {
		if p.Engine == engine {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

func (m *Memory) GetOpenPositions(_ context.Context, engine string) ([]state.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.Position
	for _, p := range m.positions {
		if p.Engine == engine && p.Status == state.StatusOpen {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

func (m *Memory) GetTradesByUser(_ context.Context, user string) ([]state.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.Trade
	for _, t := range m.trades {
		if t.User == user {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

func (m *Memory) ListMarkets(_ context.Context) ([]state.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]state.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketIndex < out[j].MarketIndex })
	return out, nil
}

func (m *Memory) GetPricePoints(_ context.Context, engine string, limit int) ([]state.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.PricePoint
	for _, pp := range m.pricePoints {
		if pp.Engine == engine {
			out = append(out, pp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) Cursor(_ context.Context) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor, m.hasCursor, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *Memory) Close() error { return nil }

// Snapshot exports the full store contents for local persistence.
func (m *Memory) Snapshot() *MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &MemorySnapshot{
		Cursor:    m.cursor,
		HasCursor: m.hasCursor,
	}
	for _, mk := range m.markets {
		snap.Markets = append(snap.Markets, mk)
	}
	for _, t := range m.trades {
		snap.Trades = append(snap.Trades, t)
	}
	for _, p := range m.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, h := range m.holdings {
		snap.Holdings = append(snap.Holdings, h)
	}
	snap.PricePoints = append(snap.PricePoints, m.pricePoints...)
	return snap
}

// Restore replaces the store contents with a previously exported snapshot.
func (m *Memory) Restore(snap *MemorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	for _, mk := range snap.Markets {
		m.markets[mk.MarketIndex] = mk
	}
	for _, t := range snap.Trades {
		m.trades[t.Identity()] = t
	}
	for _, p := range snap.Positions {
		m.positions[p.PositionID] = p
	}
	for _, h := range snap.Holdings {
		m.holdings[h.Key()] = h
	}
	m.pricePoints = append(m.pricePoints, snap.PricePoints...)
	m.cursor = snap.Cursor
	m.hasCursor = snap.HasCursor
}

// MemorySnapshot is the serializable image of a Memory store. Fixed-point
// fields encode as decimal strings through their JSON codec.
type MemorySnapshot struct {
	Cursor      uint64              `json:"cursor"`
	HasCursor   bool                `json:"has_cursor"`
	Markets     []state.Market      `json:"markets,omitempty"`
	Trades      []state.Trade       `json:"trades,omitempty"`
	Positions   []state.Position    `json:"positions,omitempty"`
	Holdings    []state.UserHolding `json:"holdings,omitempty"`
	PricePoints []state.PricePoint  `json:"price_points,omitempty"`
}

func sortPositions(ps []state.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenBlock != ps[j].OpenBlock {
			return ps[i].OpenBlock < ps[j].OpenBlock
		}
		return ps[i].PositionID < ps[j].PositionID
	})
}
