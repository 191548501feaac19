package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"PerpIndex/internal/event"
	"PerpIndex/internal/fixed"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into
// a typed event.Event. The ingestion boundary validates and converts
// before anything reaches the engine.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "MarketCreated":
		return parseMarketCreated(raw.Data)
	case "PositionOpened":
		return parsePositionOpened(raw.Data)
	case "PositionClosed":
		return parsePositionClosed(raw.Data)
	case "PositionLiquidated":
		return parsePositionLiquidated(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the upstream feed. Fixed-point
// values travel as raw-integer decimal strings (18 decimals for
// price/size/leverage/pnl, 6 for margin).

type marketCreatedJSON struct {
	MarketIndex     string `json:"market_index"`
	Engine          string `json:"engine"`
	Market          string `json:"market"`
	CollateralToken string `json:"collateral_token"`
	BlockHash       string `json:"block_hash"`
	LogIndex        uint32 `json:"log_index"`
	BlockNumber     uint64 `json:"block_number"`
	BlockTimestamp  int64  `json:"block_timestamp"`
}

func parseMarketCreated(data []byte) (*event.MarketCreated, error) {
	var j marketCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketCreated: %w", err)
	}
	return &event.MarketCreated{
		MarketIndex:     j.MarketIndex,
		Engine:          j.Engine,
		Market:          j.Market,
		CollateralToken: j.CollateralToken,
		BlockHash:       j.BlockHash,
		LogIndex:        j.LogIndex,
		BlockNumber:     j.BlockNumber,
		BlockTime:       time.Unix(j.BlockTimestamp, 0).UTC(),
	}, nil
}

type positionOpenedJSON struct {
	PositionID     string `json:"position_id"`
	Engine         string `json:"engine"`
	User           string `json:"user"`
	IsLong         bool   `json:"is_long"`
	EntryPrice     string `json:"entry_price"`
	BaseSize       string `json:"base_size"`
	Margin         string `json:"margin"`
	Leverage       string `json:"leverage"`
	CarrySnapshot  string `json:"carry_snapshot"`
	BlockHash      string `json:"block_hash"`
	LogIndex       uint32 `json:"log_index"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

func parsePositionOpened(data []byte) (*event.PositionOpened, error) {
	var j positionOpenedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionOpened: %w", err)
	}

	entryPrice, err := fixed.Parse(j.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("parse entry_price: %w", err)
	}
	baseSize, err := fixed.Parse(j.BaseSize)
	if err != nil {
		return nil, fmt.Errorf("parse base_size: %w", err)
	}
	margin, err := fixed.Parse(j.Margin)
	if err != nil {
		return nil, fmt.Errorf("parse margin: %w", err)
	}
	leverage, err := fixed.Parse(j.Leverage)
	if err != nil {
		return nil, fmt.Errorf("parse leverage: %w", err)
	}
	carry, err := parseOptional(j.CarrySnapshot)
	if err != nil {
		return nil, fmt.Errorf("parse carry_snapshot: %w", err)
	}

	return &event.PositionOpened{
		PositionID:    j.PositionID,
		Engine:        j.Engine,
		User:          j.User,
		IsLong:        j.IsLong,
		EntryPrice:    entryPrice,
		BaseSize:      baseSize,
		Margin:        margin,
		Leverage:      leverage,
		CarrySnapshot: carry,
		BlockHash:     j.BlockHash,
		LogIndex:      j.LogIndex,
		BlockNumber:   j.BlockNumber,
		BlockTime:     time.Unix(j.BlockTimestamp, 0).UTC(),
	}, nil
}

type positionClosedJSON struct {
	PositionID     string `json:"position_id"`
	Engine         string `json:"engine"`
	User           string `json:"user"`
	AvgClosePrice  string `json:"avg_close_price"`
	TotalPnl       string `json:"total_pnl"`
	BlockHash      string `json:"block_hash"`
	LogIndex       uint32 `json:"log_index"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

func parsePositionClosed(data []byte) (*event.PositionClosed, error) {
	var j positionClosedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionClosed: %w", err)
	}

	avgClosePrice, err := fixed.Parse(j.AvgClosePrice)
	if err != nil {
		return nil, fmt.Errorf("parse avg_close_price: %w", err)
	}
	totalPnl, err := fixed.Parse(j.TotalPnl)
	if err != nil {
		return nil, fmt.Errorf("parse total_pnl: %w", err)
	}

	return &event.PositionClosed{
		PositionID:    j.PositionID,
		Engine:        j.Engine,
		User:          j.User,
		AvgClosePrice: avgClosePrice,
		TotalPnl:      totalPnl,
		BlockHash:     j.BlockHash,
		LogIndex:      j.LogIndex,
		BlockNumber:   j.BlockNumber,
		BlockTime:     time.Unix(j.BlockTimestamp, 0).UTC(),
	}, nil
}

type positionLiquidatedJSON struct {
	PositionID     string `json:"position_id"`
	Engine         string `json:"engine"`
	User           string `json:"user"`
	BlockHash      string `json:"block_hash"`
	LogIndex       uint32 `json:"log_index"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

func parsePositionLiquidated(data []byte) (*event.PositionLiquidated, error) {
	var j positionLiquidatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionLiquidated: %w", err)
	}
	return &event.PositionLiquidated{
		PositionID:  j.PositionID,
		Engine:      j.Engine,
		User:        j.User,
		BlockHash:   j.BlockHash,
		LogIndex:    j.LogIndex,
		BlockNumber: j.BlockNumber,
		BlockTime:   time.Unix(j.BlockTimestamp, 0).UTC(),
	}, nil
}

// parseOptional treats an absent field as zero.
func parseOptional(s string) (fixed.Amount, error) {
	if s == "" {
		return fixed.Amount{}, nil
	}
	return fixed.Parse(s)
}
