package mirror

import (
	"time"

	"PerpIndex/internal/state"
)

// Secondary table names. The secondary schema mirrors the primary one.
const (
	TableMarkets     = "markets"
	TableTrades      = "trades"
	TablePositions   = "positions"
	TableHoldings    = "user_holdings"
	TablePricePoints = "price_points"
	TableCursor      = "indexer_cursor"
)

// Write is one pending secondary operation.
type Write struct {
	Table  string
	Rows   any               // upsert payload when Filter is nil
	Filter map[string]string // set for PATCH-style updates
}

// Row shapes sent to the secondary store. All fixed-point columns travel
// as raw-integer decimal strings; the secondary schema types them NUMERIC.

type marketRow struct {
	MarketIndex     string    `json:"market_index"`
	Engine          string    `json:"engine"`
	Market          string    `json:"market"`
	CollateralToken string    `json:"collateral_token"`
	BlockNumber     uint64    `json:"block_number"`
	CreatedAt       time.Time `json:"created_at"`
}

type tradeRow struct {
	BlockHash   string    `json:"block_hash"`
	LogIndex    uint32    `json:"log_index"`
	Engine      string    `json:"engine"`
	User        string    `json:"user"`
	PositionID  string    `json:"position_id"`
	EventType   string    `json:"event_type"`
	Price       string    `json:"price"`
	BaseSize    string    `json:"base_size"`
	Margin      string    `json:"margin"`
	Notional    string    `json:"notional"`
	Pnl         *string   `json:"pnl,omitempty"`
	IsLong      bool      `json:"is_long"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
}

type positionRow struct {
	PositionID    string    `json:"position_id"`
	Engine        string    `json:"engine"`
	User          string    `json:"user"`
	IsLong        bool      `json:"is_long"`
	BaseSize      string    `json:"base_size"`
	EntryPrice    string    `json:"entry_price"`
	EntryNotional string    `json:"entry_notional"`
	Margin        string    `json:"margin"`
	Leverage      string    `json:"leverage"`
	CarrySnapshot string    `json:"carry_snapshot"`
	OpenBlock     uint64    `json:"open_block"`
	Status        string    `json:"status"`
	RealizedPnl   string    `json:"realized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

type positionPatch struct {
	Status        string    `json:"status"`
	AvgClosePrice string    `json:"avg_close_price"`
	RealizedPnl   string    `json:"realized_pnl"`
	ClosedAt      time.Time `json:"closed_at"`
}

type holdingRow struct {
	User          string    `json:"user"`
	Engine        string    `json:"engine"`
	OpenPositions int64     `json:"open_position_count"`
	TotalTrades   int64     `json:"total_trades"`
	TotalVolume   string    `json:"total_volume"`
	RealizedPnl   string    `json:"realized_pnl"`
	LastTradeAt   time.Time `json:"last_trade_at"`
}

type pricePointRow struct {
	Engine      string    `json:"engine"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint32    `json:"log_index"`
	Price       string    `json:"price"`
	At          time.Time `json:"at"`
}

type cursorRow struct {
	ID    int    `json:"id"`
	Block uint64 `json:"block"`
}

// BuildWrites expands an applied write set into the secondary operations
// that replicate it. Order matters only within the set: the parent rows
// (market, position) come before the rows that reference them.
func BuildWrites(ws *state.WriteSet) []Write {
	var writes []Write

	if m := ws.Market; m != nil {
		writes = append(writes, Write{Table: TableMarkets, Rows: []marketRow{{
			MarketIndex:     m.MarketIndex,
			Engine:          m.Engine,
			Market:          m.Address,
			CollateralToken: m.CollateralToken,
			BlockNumber:     m.BlockNumber,
			CreatedAt:       m.CreatedAt,
		}}})
	}

	if p := ws.Position; p != nil {
		writes = append(writes, Write{Table: TablePositions, Rows: []positionRow{{
			PositionID:    p.PositionID,
			Engine:        p.Engine,
			User:          p.User,
			IsLong:        p.IsLong,
			BaseSize:      p.BaseSize.String(),
			EntryPrice:    p.EntryPrice.String(),
			EntryNotional: p.EntryNotional.String(),
			Margin:        p.Margin.String(),
			Leverage:      p.Leverage.String(),
			CarrySnapshot: p.CarrySnapshot.String(),
			OpenBlock:     p.OpenBlock,
			Status:        p.Status.String(),
			RealizedPnl:   p.RealizedPnl.String(),
			OpenedAt:      p.OpenedAt,
		}}})
	}

	if tr := ws.Transition; tr != nil {
		writes = append(writes, Write{
			Table: TablePositions,
			Filter: map[string]string{
				"position_id": tr.PositionID,
				"engine":      tr.Engine,
			},
			Rows: positionPatch{
				Status:        tr.Status.String(),
				AvgClosePrice: tr.AvgClosePrice.String(),
				RealizedPnl:   tr.RealizedPnl.String(),
				ClosedAt:      tr.ClosedAt,
			},
		})
	}

	if t := ws.Trade; t != nil {
		row := tradeRow{
			BlockHash:   t.BlockHash,
			LogIndex:    t.LogIndex,
			Engine:      t.Engine,
			User:        t.User,
			PositionID:  t.PositionID,
			EventType:   string(t.Type),
			Price:       t.Price.String(),
			BaseSize:    t.BaseSize.String(),
			Margin:      t.Margin.String(),
			Notional:    t.Notional.String(),
			IsLong:      t.IsLong,
			Timestamp:   t.Timestamp,
			BlockNumber: t.BlockNumber,
		}
		if t.Pnl != nil {
			s := t.Pnl.String()
			row.Pnl = &s
		}
		writes = append(writes, Write{Table: TableTrades, Rows: []tradeRow{row}})
	}

	if h := ws.Holding; h != nil {
		writes = append(writes, Write{Table: TableHoldings, Rows: []holdingRow{{
			User:          h.User,
			Engine:        h.Engine,
			OpenPositions: h.OpenPositions,
			TotalTrades:   h.TotalTrades,
			TotalVolume:   h.TotalVolume.String(),
			RealizedPnl:   h.RealizedPnl.String(),
			LastTradeAt:   h.LastTradeAt,
		}}})
	}

	if pp := ws.PricePoint; pp != nil {
		writes = append(writes, Write{Table: TablePricePoints, Rows: []pricePointRow{{
			Engine:      pp.Engine,
			BlockNumber: pp.BlockNumber,
			LogIndex:    pp.LogIndex,
			Price:       pp.Price.String(),
			At:          pp.At,
		}}})
	}

	if ws.Cursor != nil {
		writes = append(writes, Write{Table: TableCursor, Rows: []cursorRow{{
			ID:    1,
			Block: *ws.Cursor,
		}}})
	}

	return writes
}
