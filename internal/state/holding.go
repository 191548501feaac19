package state

import (
	"time"

	"PerpIndex/internal/fixed"
)

// HoldingKey identifies a per-user/per-market aggregate.
type HoldingKey struct {
	User   string
	Engine string
}

func (k HoldingKey) String() string { return k.User + ":" + k.Engine }

// UserHolding is the incrementally maintained aggregate for one
// (user, engine) pair. OpenPositions is floored at zero; TotalTrades and
// TotalVolume are monotonically non-decreasing.
type UserHolding struct {
	User          string       `json:"user"`
	Engine        string       `json:"engine"`
	OpenPositions int64        `json:"open_position_count"`
	TotalTrades   int64        `json:"total_trades"`
	TotalVolume   fixed.Amount `json:"total_volume"`  // Wad, sum of open notionals
	RealizedPnl   fixed.Amount `json:"realized_pnl"`  // Wad, signed
	LastTradeAt   time.Time    `json:"last_trade_at"`
}

// Key returns the holding's identity.
func (h UserHolding) Key() HoldingKey {
	return HoldingKey{User: h.User, Engine: h.Engine}
}

// HoldingDelta is one event's contribution to a UserHolding, produced by
// the applier and folded in by the engine under the key's lock.
type HoldingDelta struct {
	User     string
	Engine   string
	Kind     TradeType
	Notional fixed.Amount // Wad, opens only
	Pnl      fixed.Amount // Wad, closes only
	At       time.Time
}

// Key returns the aggregate key the delta serializes on.
func (d HoldingDelta) Key() HoldingKey {
	return HoldingKey{User: d.User, Engine: d.Engine}
}

// Apply folds a delta into the aggregate and returns the new value.
//
// Open:      open count +1, trades +1, volume += notional.
// Close:     open count -1 floored at 0, trades +1, pnl += delta pnl.
// Liquidate: open count -1 floored at 0, trades +1, no PnL attribution
// (the upstream feed does not report liquidation PnL).
//
// A close arriving before its open only decrements to the floor; that is
// tolerated partial-history behavior, not an error.
func (h UserHolding) Apply(d HoldingDelta) UserHolding {
	next := h
	next.User = d.User
	next.Engine = d.Engine
	next.TotalTrades++
	next.LastTradeAt = d.At

	switch d.Kind {
	case TradeOpen:
		next.OpenPositions++
		next.TotalVolume = h.TotalVolume.Add(d.Notional)
	case TradeClose:
		next.OpenPositions = floorZero(h.OpenPositions - 1)
		next.RealizedPnl = h.RealizedPnl.Add(d.Pnl)
	case TradeLiquidate:
		next.OpenPositions = floorZero(h.OpenPositions - 1)
	}

	return next
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
