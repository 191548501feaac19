package store_test

import (
	"context"
	"testing"

	"PerpIndex/internal/core"
	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
	"PerpIndex/internal/testutil"
)

func applyEvent(t *testing.T, m *store.Memory, ws *state.WriteSet) {
	t.Helper()
	if err := m.ApplyWrites(context.Background(), ws); err != nil {
		t.Fatalf("apply writes: %v", err)
	}
}

func TestTransitionOnlyLeavesOpenStatus(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
	ws, err := core.BuildWrites(open)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	applyEvent(t, m, ws)

	closeEvt := testutil.NewPositionClosed("7", testutil.TestUser, 105, 0, 2100, 100)
	ws, err = core.BuildWrites(closeEvt)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	applyEvent(t, m, ws)

	positions, _ := m.GetUserPositions(ctx, testutil.TestUser)
	if len(positions) != 1 || positions[0].Status != state.StatusClosed {
		t.Fatalf("positions = %+v, want one closed position", positions)
	}

	// A second transition against a non-open position is a no-op.
	liq := testutil.NewPositionLiquidated("7", testutil.TestUser, 106, 0)
	ws, err = core.BuildWrites(liq)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	applyEvent(t, m, ws)

	positions, _ = m.GetUserPositions(ctx, testutil.TestUser)
	if positions[0].Status != state.StatusClosed {
		t.Errorf("status = %s, want Closed preserved over late liquidation", positions[0].Status)
	}
}

func TestPricePointLimitKeepsNewest(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for block := uint64(1); block <= 5; block++ {
		open := testutil.NewPositionOpened("p", testutil.TestUser, block, 0, 1000+int64(block), 1, 100)
		ws, err := core.BuildWrites(open)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		applyEvent(t, m, ws)
	}

	points, err := m.GetPricePoints(ctx, testutil.TestEngine, 2)
	if err != nil {
		t.Fatalf("get price points: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points = %d, want 2", len(points))
	}
	if points[0].BlockNumber != 4 || points[1].BlockNumber != 5 {
		t.Errorf("blocks = [%d %d], want newest two in ascending order", points[0].BlockNumber, points[1].BlockNumber)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	created := testutil.NewMarketCreated("1", 10, 0)
	ws, err := core.BuildWrites(created)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	applyEvent(t, m, ws)

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
	ws, err = core.BuildWrites(open)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ws.Cursor = &ws.Block
	applyEvent(t, m, ws)

	restored := store.NewMemory()
	restored.Restore(m.Snapshot())

	markets, _ := restored.ListMarkets(ctx)
	if len(markets) != 1 || markets[0].MarketIndex != "1" {
		t.Errorf("markets = %+v, want the created market", markets)
	}

	trades, _ := restored.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if !trades[0].Notional.Equal(ws.Trade.Notional) {
		t.Errorf("notional = %s, want %s preserved through snapshot", trades[0].Notional, ws.Trade.Notional)
	}

	cursor, ok, _ := restored.Cursor(ctx)
	if !ok || cursor != 100 {
		t.Errorf("cursor = %d (ok=%v), want 100", cursor, ok)
	}
}

func TestFlushEmptiesEverything(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
	ws, err := core.BuildWrites(open)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	applyEvent(t, m, ws)

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	trades, _ := m.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 0 {
		t.Errorf("trades after flush = %d, want 0", len(trades))
	}
	if has, _ := m.HasTrade(ctx, open.Identity()); has {
		t.Error("trade identity survived flush")
	}
}
