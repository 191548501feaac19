package testutil

import (
	"fmt"
	"time"

	"PerpIndex/internal/event"
	"PerpIndex/internal/fixed"
)

// Canonical test addresses.
const (
	TestEngine = "0xengine0000000000000000000000000000000001"
	TestUser   = "0xuser000000000000000000000000000000000001"
)

// BlockTime returns a deterministic timestamp for a block number.
func BlockTime(block uint64) time.Time {
	return time.Unix(1_700_000_000+int64(block)*12, 0).UTC()
}

// BlockHash returns a deterministic fake hash for a block number.
func BlockHash(block uint64) string {
	return fmt.Sprintf("0xhash%08d", block)
}

// NewMarketCreated builds a MarketCreated event at the given block.
func NewMarketCreated(marketIndex string, block uint64, logIndex uint32) *event.MarketCreated {
	return &event.MarketCreated{
		MarketIndex:     marketIndex,
		Engine:          TestEngine,
		Market:          "0xmarket00000000000000000000000000000000" + marketIndex,
		CollateralToken: "0xusdc000000000000000000000000000000000001",
		BlockHash:       BlockHash(block),
		LogIndex:        logIndex,
		BlockNumber:     block,
		BlockTime:       BlockTime(block),
	}
}

// NewPositionOpened builds a PositionOpened with whole-unit price and
// size at their native scales (18-decimal price/size, 6-decimal margin).
func NewPositionOpened(positionID string, user string, block uint64, logIndex uint32, priceUnits, sizeUnits, marginUnits int64) *event.PositionOpened {
	return &event.PositionOpened{
		PositionID:  positionID,
		Engine:      TestEngine,
		User:        user,
		IsLong:      true,
		EntryPrice:  fixed.Units(priceUnits, fixed.Wad),
		BaseSize:    fixed.Units(sizeUnits, fixed.Wad),
		Margin:      fixed.Units(marginUnits, fixed.Collateral),
		Leverage:    fixed.Units(10, fixed.Wad),
		BlockHash:   BlockHash(block),
		LogIndex:    logIndex,
		BlockNumber: block,
		BlockTime:   BlockTime(block),
	}
}

// NewPositionClosed builds a PositionClosed with whole-unit close price
// and pnl at the 18-decimal scale.
func NewPositionClosed(positionID string, user string, block uint64, logIndex uint32, closePriceUnits, pnlUnits int64) *event.PositionClosed {
	return &event.PositionClosed{
		PositionID:    positionID,
		Engine:        TestEngine,
		User:          user,
		AvgClosePrice: fixed.Units(closePriceUnits, fixed.Wad),
		TotalPnl:      fixed.Units(pnlUnits, fixed.Wad),
		BlockHash:     BlockHash(block),
		LogIndex:      logIndex,
		BlockNumber:   block,
		BlockTime:     BlockTime(block),
	}
}

// NewPositionLiquidated builds a PositionLiquidated event.
func NewPositionLiquidated(positionID string, user string, block uint64, logIndex uint32) *event.PositionLiquidated {
	return &event.PositionLiquidated{
		PositionID:  positionID,
		Engine:      TestEngine,
		User:        user,
		BlockHash:   BlockHash(block),
		LogIndex:    logIndex,
		BlockNumber: block,
		BlockTime:   BlockTime(block),
	}
}
