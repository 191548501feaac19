package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"PerpIndex/internal/event"
	"PerpIndex/internal/fixed"
	"PerpIndex/internal/state"
)

// Postgres is the durable primary store used by the server indexer.
// Every write set commits in one transaction; all entity writes are
// ON CONFLICT upserts on their identity keys. Fixed-point values map to
// NUMERIC columns through shopspring decimal.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the database is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection pool (tests, migrations).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying pool for the migrator.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) ApplyWrites(ctx context.Context, ws *state.WriteSet) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if ws.Market != nil {
		if err := upsertMarket(ctx, tx, ws.Market); err != nil {
			return err
		}
	}
	if ws.Position != nil {
		if err := upsertPosition(ctx, tx, ws.Position); err != nil {
			return err
		}
	}
	if ws.Transition != nil {
		if err := applyTransition(ctx, tx, ws.Transition); err != nil {
			return err
		}
	}
	if ws.Trade != nil {
		if err := upsertTrade(ctx, tx, ws.Trade); err != nil {
			return err
		}
	}
	if ws.PricePoint != nil {
		if err := upsertPricePoint(ctx, tx, ws.PricePoint); err != nil {
			return err
		}
	}
	if ws.Holding != nil {
		if err := upsertHolding(ctx, tx, ws.Holding); err != nil {
			return err
		}
	}
	if ws.Cursor != nil {
		if err := upsertCursor(ctx, tx, *ws.Cursor); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertMarket(ctx context.Context, tx *sql.Tx, m *state.Market) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO markets (market_index, engine, market, collateral_token, block_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_index) DO NOTHING`,
		m.MarketIndex, m.Engine, m.Address, m.CollateralToken, m.BlockNumber, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.MarketIndex, err)
	}
	return nil
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *state.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (position_id, engine, user_addr, is_long, base_size, entry_price,
			entry_notional, margin, leverage, carry_snapshot, open_block, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id, engine) DO NOTHING`,
		p.PositionID, p.Engine, p.User, p.IsLong,
		wad(p.BaseSize), wad(p.EntryPrice), wad(p.EntryNotional),
		collateral(p.Margin), wad(p.Leverage), wad(p.CarrySnapshot),
		p.OpenBlock, p.Status.String(), p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.PositionID, err)
	}
	return nil
}

// applyTransition fixes a position's terminal fields. A missing target
// row (partial history) updates zero rows, which is tolerated; a repeat
// delivery finds the status already terminal and also updates nothing.
func applyTransition(ctx context.Context, tx *sql.Tx, tr *state.PositionTransition) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = $1, avg_close_price = $2, realized_pnl = $3, closed_at = $4
		WHERE position_id = $5 AND engine = $6 AND status = 'Open'`,
		tr.Status.String(), wad(tr.AvgClosePrice), wad(tr.RealizedPnl), tr.ClosedAt,
		tr.PositionID, tr.Engine,
	)
	if err != nil {
		return fmt.Errorf("transition position %s: %w", tr.PositionID, err)
	}
	return nil
}

func upsertTrade(ctx context.Context, tx *sql.Tx, t *state.Trade) error {
	var pnl any
	if t.Pnl != nil {
		pnl = wad(*t.Pnl)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (block_hash, log_index, engine, user_addr, position_id, event_type,
			price, base_size, margin, notional, pnl, is_long, ts, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (block_hash, log_index) DO NOTHING`,
		t.BlockHash, t.LogIndex, t.Engine, t.User, t.PositionID, string(t.Type),
		wad(t.Price), wad(t.BaseSize), collateral(t.Margin), wad(t.Notional), pnl,
		t.IsLong, t.Timestamp, t.BlockNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert trade %s: %w", t.Identity().String(), err)
	}
	return nil
}

func upsertPricePoint(ctx context.Context, tx *sql.Tx, pp *state.PricePoint) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO price_points (engine, block_number, log_index, price, at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (engine, block_number, log_index) DO NOTHING`,
		pp.Engine, pp.BlockNumber, pp.LogIndex, wad(pp.Price), pp.At,
	)
	if err != nil {
		return fmt.Errorf("upsert price point: %w", err)
	}
	return nil
}

func upsertHolding(ctx context.Context, tx *sql.Tx, h *state.UserHolding) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_holdings (user_addr, engine, open_position_count, total_trades,
			total_volume, realized_pnl, last_trade_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_addr, engine) DO UPDATE SET
			open_position_count = EXCLUDED.open_position_count,
			total_trades = EXCLUDED.total_trades,
			total_volume = EXCLUDED.total_volume,
			realized_pnl = EXCLUDED.realized_pnl,
			last_trade_at = EXCLUDED.last_trade_at`,
		h.User, h.Engine, h.OpenPositions, h.TotalTrades,
		wad(h.TotalVolume), wad(h.RealizedPnl), h.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert holding %s: %w", h.Key().String(), err)
	}
	return nil
}

func upsertCursor(ctx context.Context, tx *sql.Tx, block uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO indexer_cursor (id, block) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET block = EXCLUDED.block`,
		block,
	)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (p *Postgres) HasTrade(ctx context.Context, id event.ID) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM trades WHERE block_hash = $1 AND log_index = $2)`,
		id.BlockHash, id.LogIndex,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has trade %s: %w", id.String(), err)
	}
	return exists, nil
}

func (p *Postgres) GetHolding(ctx context.Context, user, engine string) (state.UserHolding, bool, error) {
	var (
		h           state.UserHolding
		volume, pnl decimal.Decimal
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT user_addr, engine, open_position_count, total_trades, total_volume, realized_pnl, last_trade_at
		FROM user_holdings WHERE user_addr = $1 AND engine = $2`,
		user, engine,
	).Scan(&h.User, &h.Engine, &h.OpenPositions, &h.TotalTrades, &volume, &pnl, &h.LastTradeAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state.UserHolding{}, false, nil
	}
	if err != nil {
		return state.UserHolding{}, false, fmt.Errorf("get holding %s:%s: %w", user, engine, err)
	}
	h.TotalVolume = fixed.FromDecimal(volume, fixed.Wad)
	h.RealizedPnl = fixed.FromDecimal(pnl, fixed.Wad)
	return h, true, nil
}

const positionColumns = `position_id, engine, user_addr, is_long, base_size, entry_price,
	entry_notional, margin, leverage, carry_snapshot, open_block, status,
	COALESCE(avg_close_price, 0), COALESCE(realized_pnl, 0), opened_at, COALESCE(closed_at, 'epoch'::timestamptz)`

func (p *Postgres) GetUserPositions(ctx context.Context, user string) ([]state.Position, error) {
	return p.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE user_addr = $1 ORDER BY open_block, position_id`, user)
}

func (p *Postgres) GetPositionsByMarket(ctx context.Context, engine string) ([]state.Position, error) {
	return p.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE engine = $1 ORDER BY open_block, position_id`, engine)
}

func (p *Postgres) GetOpenPositions(ctx context.Context, engine string) ([]state.Position, error) {
	return p.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE engine = $1 AND status = 'Open' ORDER BY open_block, position_id`, engine)
}

func (p *Postgres) queryPositions(ctx context.Context, query string, args ...any) ([]state.Position, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []state.Position
	for rows.Next() {
		var (
			pos                                            state.Position
			baseSize, entryPrice, entryNotional            decimal.Decimal
			margin, leverage, carry, avgClose, realizedPnl decimal.Decimal
			status                                         string
		)
		if err := rows.Scan(
			&pos.PositionID, &pos.Engine, &pos.User, &pos.IsLong,
			&baseSize, &entryPrice, &entryNotional, &margin, &leverage, &carry,
			&pos.OpenBlock, &status, &avgClose, &realizedPnl, &pos.OpenedAt, &pos.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.BaseSize = fixed.FromDecimal(baseSize, fixed.Wad)
		pos.EntryPrice = fixed.FromDecimal(entryPrice, fixed.Wad)
		pos.EntryNotional = fixed.FromDecimal(entryNotional, fixed.Wad)
		pos.Margin = fixed.FromDecimal(margin, fixed.Collateral)
		pos.Leverage = fixed.FromDecimal(leverage, fixed.Wad)
		pos.CarrySnapshot = fixed.FromDecimal(carry, fixed.Wad)
		pos.AvgClosePrice = fixed.FromDecimal(avgClose, fixed.Wad)
		pos.RealizedPnl = fixed.FromDecimal(realizedPnl, fixed.Wad)
		pos.Status = statusFromString(status)
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *Postgres) GetTradesByUser(ctx context.Context, user string) ([]state.Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT block_hash, log_index, engine, user_addr, position_id, event_type,
			price, base_size, margin, notional, pnl, is_long, ts, block_number
		FROM trades WHERE user_addr = $1 ORDER BY block_number, log_index`, user)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []state.Trade
	for rows.Next() {
		var (
			t                               state.Trade
			price, baseSize, margin, notion decimal.Decimal
			pnl                             decimal.NullDecimal
			tradeType                       string
		)
		if err := rows.Scan(
			&t.BlockHash, &t.LogIndex, &t.Engine, &t.User, &t.PositionID, &tradeType,
			&price, &baseSize, &margin, &notion, &pnl, &t.IsLong, &t.Timestamp, &t.BlockNumber,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Type = state.TradeType(tradeType)
		t.Price = fixed.FromDecimal(price, fixed.Wad)
		t.BaseSize = fixed.FromDecimal(baseSize, fixed.Wad)
		t.Margin = fixed.FromDecimal(margin, fixed.Collateral)
		t.Notional = fixed.FromDecimal(notion, fixed.Wad)
		if pnl.Valid {
			v := fixed.FromDecimal(pnl.Decimal, fixed.Wad)
			t.Pnl = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListMarkets(ctx context.Context) ([]state.Market, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT market_index, engine, market, collateral_token, block_number, created_at
		FROM markets ORDER BY market_index`)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var out []state.Market
	for rows.Next() {
		var m state.Market
		if err := rows.Scan(&m.MarketIndex, &m.Engine, &m.Address, &m.CollateralToken, &m.BlockNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPricePoints(ctx context.Context, engine string, limit int) ([]state.PricePoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT engine, block_number, log_index, price, at FROM (
			SELECT engine, block_number, log_index, price, at
			FROM price_points WHERE engine = $1
			ORDER BY block_number DESC, log_index DESC LIMIT $2
		) recent ORDER BY block_number, log_index`, engine, limit)
	if err != nil {
		return nil, fmt.Errorf("query price points: %w", err)
	}
	defer rows.Close()

	var out []state.PricePoint
	for rows.Next() {
		var (
			pp    state.PricePoint
			price decimal.Decimal
		)
		if err := rows.Scan(&pp.Engine, &pp.BlockNumber, &pp.LogIndex, &price, &pp.At); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		pp.Price = fixed.FromDecimal(price, fixed.Wad)
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (p *Postgres) Cursor(ctx context.Context) (uint64, bool, error) {
	var block uint64
	err := p.db.QueryRowContext(ctx, `SELECT block FROM indexer_cursor WHERE id = 1`).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return block, true, nil
}

// Flush truncates all derived state ahead of a full replay.
func (p *Postgres) Flush(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx,
		`TRUNCATE markets, trades, positions, user_holdings, price_points, indexer_cursor`)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// wad and collateral convert fixed-point values to NUMERIC parameters at
// their respective scales.
func wad(a fixed.Amount) decimal.Decimal        { return a.Decimal(fixed.Wad) }
func collateral(a fixed.Amount) decimal.Decimal { return a.Decimal(fixed.Collateral) }

func statusFromString(s string) state.PositionStatus {
	switch s {
	case "Closed":
		return state.StatusClosed
	case "Liquidated":
		return state.StatusLiquidated
	default:
		return state.StatusOpen
	}
}
