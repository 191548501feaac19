package core

import (
	"PerpIndex/internal/event"
	"PerpIndex/internal/state"
)

// BuildWrites converts an event into its deterministic set of entity
// writes. Pure: no store access, no side effects. The switch is
// exhaustive over the closed event set; a new variant fails the default
// branch instead of being silently ignored.
func BuildWrites(evt event.Event) (*state.WriteSet, error) {
	switch e := evt.(type) {
	case *event.MarketCreated:
		return buildMarketCreated(e)
	case *event.PositionOpened:
		return buildPositionOpened(e)
	case *event.PositionClosed:
		return buildPositionClosed(e)
	case *event.PositionLiquidated:
		return buildPositionLiquidated(e)
	default:
		return nil, malformed(evt.Identity(), evt.EventType(), "known event variant")
	}
}

func buildMarketCreated(e *event.MarketCreated) (*state.WriteSet, error) {
	if err := requireIdentity(e); err != nil {
		return nil, err
	}
	if e.MarketIndex == "" {
		return nil, malformed(e.Identity(), e.EventType(), "market_index")
	}
	if e.Engine == "" {
		return nil, malformed(e.Identity(), e.EventType(), "engine")
	}

	return &state.WriteSet{
		Event: e.Identity(),
		Block: e.BlockNumber,
		Market: &state.Market{
			MarketIndex:     e.MarketIndex,
			Engine:          e.Engine,
			Address:         e.Market,
			CollateralToken: e.CollateralToken,
			BlockNumber:     e.BlockNumber,
			CreatedAt:       e.BlockTime,
		},
	}, nil
}

func buildPositionOpened(e *event.PositionOpened) (*state.WriteSet, error) {
	if err := requireIdentity(e); err != nil {
		return nil, err
	}
	if e.PositionID == "" {
		return nil, malformed(e.Identity(), e.EventType(), "position_id")
	}
	if e.User == "" {
		return nil, malformed(e.Identity(), e.EventType(), "user")
	}
	if e.Engine == "" {
		return nil, malformed(e.Identity(), e.EventType(), "engine")
	}
	if e.EntryPrice.Sign() <= 0 {
		return nil, malformed(e.Identity(), e.EventType(), "entry_price")
	}
	if e.BaseSize.Sign() <= 0 {
		return nil, malformed(e.Identity(), e.EventType(), "base_size")
	}

	pos := state.NewPosition(e)
	notional := pos.EntryNotional

	return &state.WriteSet{
		Event: e.Identity(),
		Block: e.BlockNumber,
		Trade: &state.Trade{
			BlockHash:   e.BlockHash,
			LogIndex:    e.LogIndex,
			Engine:      e.Engine,
			User:        e.User,
			PositionID:  e.PositionID,
			Type:        state.TradeOpen,
			Price:       e.EntryPrice,
			BaseSize:    e.BaseSize,
			Margin:      e.Margin,
			Notional:    notional,
			IsLong:      e.IsLong,
			Timestamp:   e.BlockTime,
			BlockNumber: e.BlockNumber,
		},
		Position: &pos,
		PricePoint: &state.PricePoint{
			Engine:      e.Engine,
			BlockNumber: e.BlockNumber,
			LogIndex:    e.LogIndex,
			Price:       e.EntryPrice,
			At:          e.BlockTime,
		},
		HoldingDelta: &state.HoldingDelta{
			User:     e.User,
			Engine:   e.Engine,
			Kind:     state.TradeOpen,
			Notional: notional,
			At:       e.BlockTime,
		},
	}, nil
}

func buildPositionClosed(e *event.PositionClosed) (*state.WriteSet, error) {
	if err := requireIdentity(e); err != nil {
		return nil, err
	}
	if e.PositionID == "" {
		return nil, malformed(e.Identity(), e.EventType(), "position_id")
	}
	if e.User == "" {
		return nil, malformed(e.Identity(), e.EventType(), "user")
	}
	if e.Engine == "" {
		return nil, malformed(e.Identity(), e.EventType(), "engine")
	}
	if e.AvgClosePrice.Sign() <= 0 {
		return nil, malformed(e.Identity(), e.EventType(), "avg_close_price")
	}

	pnl := e.TotalPnl

	return &state.WriteSet{
		Event: e.Identity(),
		Block: e.BlockNumber,
		Trade: &state.Trade{
			BlockHash:   e.BlockHash,
			LogIndex:    e.LogIndex,
			Engine:      e.Engine,
			User:        e.User,
			PositionID:  e.PositionID,
			Type:        state.TradeClose,
			Price:       e.AvgClosePrice,
			Pnl:         &pnl,
			Timestamp:   e.BlockTime,
			BlockNumber: e.BlockNumber,
		},
		Transition: &state.PositionTransition{
			PositionID:    e.PositionID,
			Engine:        e.Engine,
			Status:        state.StatusClosed,
			AvgClosePrice: e.AvgClosePrice,
			RealizedPnl:   e.TotalPnl,
			ClosedAt:      e.BlockTime,
		},
		PricePoint: &state.PricePoint{
			Engine:      e.Engine,
			BlockNumber: e.BlockNumber,
			LogIndex:    e.LogIndex,
			Price:       e.AvgClosePrice,
			At:          e.BlockTime,
		},
		HoldingDelta: &state.HoldingDelta{
			User:   e.User,
			Engine: e.Engine,
			Kind:   state.TradeClose,
			Pnl:    e.TotalPnl,
			At:     e.BlockTime,
		},
	}, nil
}

func buildPositionLiquidated(e *event.PositionLiquidated) (*state.WriteSet, error) {
	if err := requireIdentity(e); err != nil {
		return nil, err
	}
	if e.PositionID == "" {
		return nil, malformed(e.Identity(), e.EventType(), "position_id")
	}
	if e.User == "" {
		return nil, malformed(e.Identity(), e.EventType(), "user")
	}
	if e.Engine == "" {
		return nil, malformed(e.Identity(), e.EventType(), "engine")
	}

	// No price point: the feed carries no execution price on liquidations.
	return &state.WriteSet{
		Event: e.Identity(),
		Block: e.BlockNumber,
		Trade: &state.Trade{
			BlockHash:   e.BlockHash,
			LogIndex:    e.LogIndex,
			Engine:      e.Engine,
			User:        e.User,
			PositionID:  e.PositionID,
			Type:        state.TradeLiquidate,
			Timestamp:   e.BlockTime,
			BlockNumber: e.BlockNumber,
		},
		Transition: &state.PositionTransition{
			PositionID: e.PositionID,
			Engine:     e.Engine,
			Status:     state.StatusLiquidated,
			ClosedAt:   e.BlockTime,
		},
		HoldingDelta: &state.HoldingDelta{
			User:   e.User,
			Engine: e.Engine,
			Kind:   state.TradeLiquidate,
			At:     e.BlockTime,
		},
	}, nil
}

func requireIdentity(evt event.Event) error {
	if evt.Identity().IsZero() {
		return malformed(evt.Identity(), evt.EventType(), "block_hash")
	}
	return nil
}
