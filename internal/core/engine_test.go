package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpIndex/internal/event"
	"PerpIndex/internal/fixed"
	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
	"PerpIndex/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	eng := NewEngine(mem, Config{}, zerolog.Nop(), nil)
	return eng, mem
}

func TestOpenThenClose(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
	if _, err := eng.Process(ctx, open); err != nil {
		t.Fatalf("process open: %v", err)
	}

	closeEvt := testutil.NewPositionClosed("7", testutil.TestUser, 105, 0, 2100, 100)
	if _, err := eng.Process(ctx, closeEvt); err != nil {
		t.Fatalf("process close: %v", err)
	}

	h, ok, err := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if err != nil || !ok {
		t.Fatalf("get holding: ok=%v err=%v", ok, err)
	}
	if h.OpenPositions != 0 {
		t.Errorf("open positions = %d, want 0", h.OpenPositions)
	}
	if h.TotalTrades != 2 {
		t.Errorf("total trades = %d, want 2", h.TotalTrades)
	}
	if want := fixed.Units(100, fixed.Wad); !h.RealizedPnl.Equal(want) {
		t.Errorf("realized pnl = %s, want %s", h.RealizedPnl, want)
	}
	if want := fixed.Units(2000, fixed.Wad); !h.TotalVolume.Equal(want) {
		t.Errorf("total volume = %s, want %s", h.TotalVolume, want)
	}

	trades, err := mem.GetTradesByUser(ctx, testutil.TestUser)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trade rows = %d, want 2", len(trades))
	}
	if trades[0].Identity() == trades[1].Identity() {
		t.Error("trade rows share an identity key")
	}

	positions, err := mem.GetUserPositions(ctx, testutil.TestUser)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Status != state.StatusClosed {
		t.Errorf("status = %s, want Closed", positions[0].Status)
	}
	if want := fixed.Units(100, fixed.Wad); !positions[0].RealizedPnl.Equal(want) {
		t.Errorf("position pnl = %s, want %s", positions[0].RealizedPnl, want)
	}
}

func TestRedeliveryIsNoOp(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("1", testutil.TestUser, 50, 0, 1500, 2, 300)
	if ws, err := eng.Process(ctx, open); err != nil || ws == nil {
		t.Fatalf("first delivery: ws=%v err=%v", ws, err)
	}

	ws, err := eng.Process(ctx, open)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if ws != nil {
		t.Error("redelivery returned a write set, want nil")
	}

	h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if h.OpenPositions != 1 || h.TotalTrades != 1 {
		t.Errorf("holding = {open:%d trades:%d}, want {open:1 trades:1}", h.OpenPositions, h.TotalTrades)
	}
}

func TestRedeliveryCaughtByStoreTier(t *testing.T) {
	// A second engine over the same store has a cold LRU; the durable
	// trade row must still stop the duplicate.
	mem := store.NewMemory()
	ctx := context.Background()

	first := NewEngine(mem, Config{}, zerolog.Nop(), nil)
	open := testutil.NewPositionOpened("1", testutil.TestUser, 50, 0, 1500, 2, 300)
	if _, err := first.Process(ctx, open); err != nil {
		t.Fatalf("process: %v", err)
	}

	second := NewEngine(mem, Config{}, zerolog.Nop(), nil)
	ws, err := second.Process(ctx, open)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if ws != nil {
		t.Error("redelivery returned a write set, want nil")
	}

	h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if h.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", h.TotalTrades)
	}
}

func TestCloseWithoutOpenSkipsAggregate(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	closeEvt := testutil.NewPositionClosed("99", testutil.TestUser, 10, 0, 1800, 50)
	if _, err := eng.Process(ctx, closeEvt); err != nil {
		t.Fatalf("process close: %v", err)
	}

	if _, ok, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine); ok {
		t.Error("holding created by close without prior open")
	}

	trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 1 {
		t.Errorf("trade rows = %d, want 1", len(trades))
	}
}

func TestOpenCountFloorsAtZero(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("1", testutil.TestUser, 10, 0, 1000, 1, 100)
	if _, err := eng.Process(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}
	for i, id := range []string{"1", "2"} {
		closeEvt := testutil.NewPositionClosed(id, testutil.TestUser, 20+uint64(i), uint32(i), 1100, 10)
		if _, err := eng.Process(ctx, closeEvt); err != nil {
			t.Fatalf("close %s: %v", id, err)
		}
	}

	h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if h.OpenPositions != 0 {
		t.Errorf("open positions = %d, want 0 (floored)", h.OpenPositions)
	}
	if h.TotalTrades != 3 {
		t.Errorf("total trades = %d, want 3", h.TotalTrades)
	}
}

func TestLiquidationCarriesNoPnl(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("3", testutil.TestUser, 10, 0, 1000, 1, 100)
	if _, err := eng.Process(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}
	liq := testutil.NewPositionLiquidated("3", testutil.TestUser, 15, 0)
	if _, err := eng.Process(ctx, liq); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if h.OpenPositions != 0 || h.TotalTrades != 2 {
		t.Errorf("holding = {open:%d trades:%d}, want {open:0 trades:2}", h.OpenPositions, h.TotalTrades)
	}
	if !h.RealizedPnl.IsZero() {
		t.Errorf("realized pnl = %s, want 0", h.RealizedPnl)
	}

	positions, _ := mem.GetUserPositions(ctx, testutil.TestUser)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Status != state.StatusLiquidated {
		t.Errorf("status = %s, want Liquidated", positions[0].Status)
	}
}

func TestVolumeIsMonotonic(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	var prev fixed.Amount
	events := []struct {
		id    string
		block uint64
		kind  string
	}{
		{"a", 10, "open"},
		{"b", 11, "open"},
		{"a", 12, "close"},
		{"c", 13, "open"},
		{"b", 14, "close"},
	}
	for i, step := range events {
		if step.kind == "open" {
			evt := testutil.NewPositionOpened(step.id, testutil.TestUser, step.block, uint32(i), 1000, 1, 100)
			if _, err := eng.Process(ctx, evt); err != nil {
				t.Fatalf("open %s: %v", step.id, err)
			}
		} else {
			evt := testutil.NewPositionClosed(step.id, testutil.TestUser, step.block, uint32(i), 1100, 5)
			if _, err := eng.Process(ctx, evt); err != nil {
				t.Fatalf("close %s: %v", step.id, err)
			}
		}

		h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
		if h.TotalVolume.Cmp(prev) < 0 {
			t.Fatalf("volume decreased: %s -> %s", prev, h.TotalVolume)
		}
		prev = h.TotalVolume
	}
}

func TestMalformedEventRejected(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	bad := testutil.NewPositionOpened("1", testutil.TestUser, 10, 0, 2000, 1, 100)
	bad.EntryPrice = fixed.Amount{}

	_, err := eng.Process(ctx, bad)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("got %v, want ErrMalformedEvent", err)
	}

	trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 0 {
		t.Errorf("trade rows = %d, want 0", len(trades))
	}
}

func TestStreamResetFlushesDerivedState(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("1", testutil.TestUser, 1000, 0, 2000, 1, 200)
	if _, err := eng.Process(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}

	var resetFired bool
	eng.OnReset(func(context.Context) { resetFired = true })

	// Block 10 with cursor 1000 rewinds past the tolerance: local state
	// is invalidated and the triggering event applies to empty state.
	reopened := testutil.NewPositionOpened("1", testutil.TestUser, 10, 0, 1800, 1, 150)
	if _, err := eng.Process(ctx, reopened); err != nil {
		t.Fatalf("reopen after reset: %v", err)
	}

	if !resetFired {
		t.Error("reset callback not fired")
	}
	if cursor, ok := eng.Cursor(); !ok || cursor != 10 {
		t.Errorf("cursor = %d (ok=%v), want 10", cursor, ok)
	}

	trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 1 {
		t.Fatalf("trade rows = %d, want 1 (pre-reset rows flushed)", len(trades))
	}
	if trades[0].BlockNumber != 10 {
		t.Errorf("surviving trade block = %d, want 10", trades[0].BlockNumber)
	}

	h, _, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine)
	if h.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", h.TotalTrades)
	}
}

func TestLateArrivalKeepsCursor(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	open := testutil.NewPositionOpened("1", testutil.TestUser, 1000, 0, 2000, 1, 200)
	if _, err := eng.Process(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}

	// 40 blocks back is within tolerance: processed, cursor unchanged.
	late := testutil.NewPositionOpened("2", testutil.TestUser, 960, 0, 1900, 1, 200)
	if _, err := eng.Process(ctx, late); err != nil {
		t.Fatalf("late open: %v", err)
	}

	if cursor, _ := eng.Cursor(); cursor != 1000 {
		t.Errorf("cursor = %d, want 1000", cursor)
	}
	trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 2 {
		t.Errorf("trade rows = %d, want 2 (late arrival still applied)", len(trades))
	}
}

// gatedStore blocks ApplyWrites for one chosen identity until released,
// so a test can hold a commit mid-flight.
type gatedStore struct {
	*store.Memory
	gateID  event.ID
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ApplyWrites(ctx context.Context, ws *state.WriteSet) error {
	if ws.Event == g.gateID {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Memory.ApplyWrites(ctx, ws)
}

func TestResetWaitsForInFlightCommit(t *testing.T) {
	mem := store.NewMemory()
	slow := testutil.NewPositionOpened("1", testutil.TestUser, 1000, 0, 2000, 1, 200)
	gs := &gatedStore{
		Memory:  mem,
		gateID:  slow.Identity(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng := NewEngine(gs, Config{}, zerolog.Nop(), nil)
	ctx := context.Background()

	slowDone := make(chan error, 1)
	go func() {
		_, err := eng.Process(ctx, slow)
		slowDone <- err
	}()
	<-gs.entered

	// A deep rewind on another key while the first commit is mid-flight.
	// The flush must wait for that commit, so the row is cleared instead
	// of surviving the reset.
	rewind := testutil.NewPositionOpened("2", "0xother00000000000000000000000000000000002", 10, 0, 1800, 1, 100)
	rewindDone := make(chan error, 1)
	go func() {
		_, err := eng.Process(ctx, rewind)
		rewindDone <- err
	}()

	select {
	case err := <-rewindDone:
		t.Fatalf("reset completed while a commit was in flight (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gs.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("gated commit: %v", err)
	}
	if err := <-rewindDone; err != nil {
		t.Fatalf("rewind event: %v", err)
	}

	trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser)
	if len(trades) != 0 {
		t.Errorf("pre-reset trade survived the flush: %d rows", len(trades))
	}
	after, _ := mem.GetTradesByUser(ctx, "0xother00000000000000000000000000000000002")
	if len(after) != 1 {
		t.Errorf("post-reset trade rows = %d, want 1", len(after))
	}
}

// failingStore fails every commit until recovered.
type failingStore struct {
	*store.Memory
	fail bool
}

func (f *failingStore) ApplyWrites(ctx context.Context, ws *state.WriteSet) error {
	if f.fail {
		return errors.New("connection refused")
	}
	return f.Memory.ApplyWrites(ctx, ws)
}

func TestPrimaryStoreFailureLeavesNoState(t *testing.T) {
	mem := store.NewMemory()
	fs := &failingStore{Memory: mem, fail: true}
	eng := NewEngine(fs, Config{}, zerolog.Nop(), nil)
	ctx := context.Background()

	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
	_, err := eng.Process(ctx, open)
	var storeErr *PrimaryStoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("got %v, want *PrimaryStoreError", err)
	}
	if storeErr.ID != open.Identity() {
		t.Errorf("error identity = %s, want %s", storeErr.ID, open.Identity())
	}

	if trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser); len(trades) != 0 {
		t.Errorf("trade rows = %d, want none after a failed commit", len(trades))
	}
	if _, ok, _ := mem.GetHolding(ctx, testutil.TestUser, testutil.TestEngine); ok {
		t.Error("holding visible after a failed commit")
	}

	// The failed attempt must not have marked the event as seen, so a
	// redelivery after the store recovers applies normally.
	fs.fail = false
	ws, err := eng.Process(ctx, open)
	if err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	if ws == nil {
		t.Fatal("redelivery after recovery treated as duplicate")
	}
	if trades, _ := mem.GetTradesByUser(ctx, testutil.TestUser); len(trades) != 1 {
		t.Errorf("trade rows = %d, want 1", len(trades))
	}
}
