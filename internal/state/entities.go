// Package state defines the derived entities maintained from the venue's
// event feed, and the deterministic per-event write batch that mutates them.
package state

import (
	"time"

	"PerpIndex/internal/event"
	"PerpIndex/internal/fixed"
)

// Market is created exactly once by a MarketCreated event and is immutable.
type Market struct {
	MarketIndex     string    `json:"market_index"`
	Engine          string    `json:"engine"`
	Address         string    `json:"market"`
	CollateralToken string    `json:"collateral_token"`
	BlockNumber     uint64    `json:"block_number"`
	CreatedAt       time.Time `json:"created_at"`
}

// TradeType classifies a trade row.
type TradeType string

const (
	TradeOpen      TradeType = "open"
	TradeClose     TradeType = "close"
	TradeLiquidate TradeType = "liquidate"
)

// Trade is one observed event projected into a uniform append-only log
// entry. Identity is the event's (blockHash, logIndex); a redelivered event
// produces a byte-identical row, never a second one.
type Trade struct {
	BlockHash   string        `json:"block_hash"`
	LogIndex    uint32        `json:"log_index"`
	Engine      string        `json:"engine"`
	User        string        `json:"user"`
	PositionID  string        `json:"position_id"`
	Type        TradeType     `json:"event_type"`
	Price       fixed.Amount  `json:"price"`     // Wad
	BaseSize    fixed.Amount  `json:"base_size"` // Wad
	Margin      fixed.Amount  `json:"margin"`    // Collateral
	Notional    fixed.Amount  `json:"notional"`  // Wad
	Pnl         *fixed.Amount `json:"pnl,omitempty"`
	IsLong      bool          `json:"is_long"`
	Timestamp   time.Time     `json:"timestamp"`
	BlockNumber uint64        `json:"block_number"`
}

// Identity returns the trade's idempotency key.
func (t Trade) Identity() event.ID {
	return event.ID{BlockHash: t.BlockHash, LogIndex: t.LogIndex}
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus int32

const (
	StatusOpen PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusClosed:
		return "Closed"
	case StatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Position is created by PositionOpened and becomes immutable once a
// close or liquidation transition fixes its terminal fields.
type Position struct {
	PositionID    string         `json:"position_id"`
	Engine        string         `json:"engine"`
	User          string         `json:"user"`
	IsLong        bool           `json:"is_long"`
	BaseSize      fixed.Amount   `json:"base_size"`      // Wad
	EntryPrice    fixed.Amount   `json:"entry_price"`    // Wad
	EntryNotional fixed.Amount   `json:"entry_notional"` // Wad
	Margin        fixed.Amount   `json:"margin"`         // Collateral
	Leverage      fixed.Amount   `json:"leverage"`       // Wad
	CarrySnapshot fixed.Amount   `json:"carry_snapshot"` // Wad
	OpenBlock     uint64         `json:"open_block"`
	Status        PositionStatus `json:"status"`
	AvgClosePrice fixed.Amount   `json:"avg_close_price"` // Wad, fixed at close
	RealizedPnl   fixed.Amount   `json:"realized_pnl"`    // Wad, fixed at close
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      time.Time      `json:"closed_at,omitempty"`
}

// NewPosition projects a PositionOpened event into its Position entity.
func NewPosition(e *event.PositionOpened) Position {
	return Position{
		PositionID:    e.PositionID,
		Engine:        e.Engine,
		User:          e.User,
		IsLong:        e.IsLong,
		BaseSize:      e.BaseSize,
		EntryPrice:    e.EntryPrice,
		EntryNotional: fixed.Notional(e.EntryPrice, e.BaseSize),
		Margin:        e.Margin,
		Leverage:      e.Leverage,
		CarrySnapshot: e.CarrySnapshot,
		OpenBlock:     e.BlockNumber,
		Status:        StatusOpen,
		OpenedAt:      e.BlockTime,
	}
}

// PositionTransition is the status change applied by a close or
// liquidation event. Missing target positions are tolerated (partial
// history); the transition is then a no-op.
type PositionTransition struct {
	PositionID    string
	Engine        string
	Status        PositionStatus
	AvgClosePrice fixed.Amount // Wad, zero for liquidations
	RealizedPnl   fixed.Amount // Wad, zero for liquidations
	ClosedAt      time.Time
}

// PricePoint is an append-only time-series sample of observed execution
// price, keyed by (engine, blockNumber, logIndex).
type PricePoint struct {
	Engine      string       `json:"engine"`
	BlockNumber uint64       `json:"block_number"`
	LogIndex    uint32       `json:"log_index"`
	Price       fixed.Amount `json:"price"` // Wad
	At          time.Time    `json:"at"`
}

// WriteSet is the deterministic batch of entity writes produced by one
// event. All writes are upserts keyed by stable identities, so applying
// the same set twice leaves state identical to applying it once. A store
// must apply the whole set atomically or not at all.
type WriteSet struct {
	Event event.ID
	Block uint64

	Market     *Market
	Trade      *Trade
	Position   *Position           // new position (opens)
	Transition *PositionTransition // status change (closes, liquidations)
	PricePoint *PricePoint

	// HoldingDelta is what the applier knows; Holding is the resolved
	// aggregate filled in by the engine's read-modify-write step.
	HoldingDelta *HoldingDelta
	Holding      *UserHolding

	// Cursor, when set, advances the progress cursor in the same
	// atomic application.
	Cursor *uint64
}
