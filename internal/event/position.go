package event

import (
	"time"

	"PerpIndex/internal/fixed"
)

// PositionOpened is emitted when a trader opens a position.
// Price, size and leverage are Wad scale; margin is Collateral scale.
type PositionOpened struct {
	PositionID    string
	Engine        string
	User          string
	IsLong        bool
	EntryPrice    fixed.Amount // Wad
	BaseSize      fixed.Amount // Wad
	Margin        fixed.Amount // Collateral
	Leverage      fixed.Amount // Wad
	CarrySnapshot fixed.Amount // Wad, cumulative funding index at open
	BlockHash     string
	LogIndex      uint32
	BlockNumber   uint64
	BlockTime     time.Time
}

func (p *PositionOpened) Identity() ID {
	return ID{BlockHash: p.BlockHash, LogIndex: p.LogIndex}
}

func (p *PositionOpened) EventType() EventType { return EventTypePositionOpened }

func (p *PositionOpened) EngineAddress() string { return p.Engine }

func (p *PositionOpened) Block() uint64 { return p.BlockNumber }

func (p *PositionOpened) Time() time.Time { return p.BlockTime }

// PositionClosed is emitted when a position is voluntarily closed.
// AvgClosePrice and TotalPnl are Wad scale; TotalPnl is signed.
type PositionClosed struct {
	PositionID    string
	Engine        string
	User          string
	AvgClosePrice fixed.Amount // Wad
	TotalPnl      fixed.Amount // Wad, signed
	BlockHash     string
	LogIndex      uint32
	BlockNumber   uint64
	BlockTime     time.Time
}

func (p *PositionClosed) Identity() ID {
	return ID{BlockHash: p.BlockHash, LogIndex: p.LogIndex}
}

func (p *PositionClosed) EventType() EventType { return EventTypePositionClosed }

func (p *PositionClosed) EngineAddress() string { return p.Engine }

func (p *PositionClosed) Block() uint64 { return p.BlockNumber }

func (p *PositionClosed) Time() time.Time { return p.BlockTime }

// PositionLiquidated is emitted when the venue force-closes a position.
// The upstream feed does not report liquidation PnL.
type PositionLiquidated struct {
	PositionID  string
	Engine      string
	User        string
	BlockHash   string
	LogIndex    uint32
	BlockNumber uint64
	BlockTime   time.Time
}

func (p *PositionLiquidated) Identity() ID {
	return ID{BlockHash: p.BlockHash, LogIndex: p.LogIndex}
}

func (p *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }

func (p *PositionLiquidated) EngineAddress() string { return p.Engine }

func (p *PositionLiquidated) Block() uint64 { return p.BlockNumber }

func (p *PositionLiquidated) Time() time.Time { return p.BlockTime }
