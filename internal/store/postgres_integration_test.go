package store_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"PerpIndex/internal/core"
	"PerpIndex/internal/fixed"
	"PerpIndex/internal/persistence"
	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
	"PerpIndex/internal/testutil"
)

func setupPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewPostgres(db)
}

func TestPostgresWriteSetRoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	eng := core.NewEngine(pg, core.Config{}, zerolog.Nop(), nil)

	if _, err := eng.Process(ctx, testutil.NewMarketCreated("1", 10, 0)); err != nil {
		t.Fatalf("market created: %v", err)
	}
	if _, err := eng.Process(ctx, testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := eng.Process(ctx, testutil.NewPositionClosed("7", testutil.TestUser, 105, 0, 2100, 100)); err != nil {
		t.Fatalf("close: %v", err)
	}

	markets, err := pg.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(markets) != 1 || markets[0].MarketIndex != "1" {
		t.Errorf("markets = %+v, want the created market", markets)
	}

	positions, err := pg.GetUserPositions(ctx, testutil.TestUser)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Status != state.StatusClosed {
		t.Errorf("status = %s, want Closed", positions[0].Status)
	}
	// NUMERIC round trip must preserve the exact 18-decimal integer.
	if want := fixed.Units(2000, fixed.Wad); !positions[0].EntryPrice.Equal(want) {
		t.Errorf("entry price = %s, want %s", positions[0].EntryPrice, want)
	}
	if want := fixed.Units(100, fixed.Wad); !positions[0].RealizedPnl.Equal(want) {
		t.Errorf("realized pnl = %s, want %s", positions[0].RealizedPnl, want)
	}

	holding, ok, err := pg.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if err != nil || !ok {
		t.Fatalf("get holding: ok=%v err=%v", ok, err)
	}
	if holding.OpenPositions != 0 || holding.TotalTrades != 2 {
		t.Errorf("holding = {open:%d trades:%d}, want {open:0 trades:2}", holding.OpenPositions, holding.TotalTrades)
	}

	cursor, ok, err := pg.Cursor(ctx)
	if err != nil || !ok {
		t.Fatalf("cursor: ok=%v err=%v", ok, err)
	}
	if cursor != 105 {
		t.Errorf("cursor = %d, want 105", cursor)
	}
}

func TestPostgresIdempotentRedelivery(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)

	// Two engines with cold caches: the second delivery must be stopped
	// by the durable trade row, not in-memory state.
	for i := 0; i < 2; i++ {
		eng := core.NewEngine(pg, core.Config{}, zerolog.Nop(), nil)
		if _, err := eng.Process(ctx, open); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	holding, _, err := pg.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if holding.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1 after redelivery", holding.TotalTrades)
	}

	trades, err := pg.GetTradesByUser(ctx, testutil.TestUser)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trade rows = %d, want 1", len(trades))
	}
}

func TestPostgresFlush(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	eng := core.NewEngine(pg, core.Config{}, zerolog.Nop(), nil)

	if _, err := eng.Process(ctx, testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pg.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	trades, err := pg.GetTradesByUser(ctx, testutil.TestUser)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trade rows after flush = %d, want 0", len(trades))
	}
	if has, err := pg.HasTrade(ctx, testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200).Identity()); err != nil || has {
		t.Errorf("has trade = %v (err=%v), want false", has, err)
	}
}
