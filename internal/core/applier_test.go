package core

import (
	"errors"
	"testing"

	"PerpIndex/internal/fixed"
	"PerpIndex/internal/state"
	"PerpIndex/internal/testutil"
)

func TestBuildWritesMarketCreated(t *testing.T) {
	ws, err := BuildWrites(testutil.NewMarketCreated("3", 10, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ws.Market == nil || ws.Market.MarketIndex != "3" {
		t.Fatalf("market = %+v, want index 3", ws.Market)
	}
	if ws.Trade != nil || ws.Position != nil || ws.HoldingDelta != nil || ws.PricePoint != nil {
		t.Error("market creation produced derived rows beyond the market entity")
	}
}

func TestBuildWritesOpenedNotional(t *testing.T) {
	open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 2, 2000, 3, 200)
	ws, err := BuildWrites(open)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := fixed.Units(6000, fixed.Wad) // 2000 * 3
	if !ws.Trade.Notional.Equal(want) {
		t.Errorf("trade notional = %s, want %s", ws.Trade.Notional, want)
	}
	if !ws.HoldingDelta.Notional.Equal(want) {
		t.Errorf("delta notional = %s, want %s", ws.HoldingDelta.Notional, want)
	}
	if !ws.Position.EntryNotional.Equal(want) {
		t.Errorf("position notional = %s, want %s", ws.Position.EntryNotional, want)
	}
	if ws.PricePoint == nil || !ws.PricePoint.Price.Equal(open.EntryPrice) {
		t.Errorf("price point = %+v, want entry price sample", ws.PricePoint)
	}
	if ws.Event != open.Identity() {
		t.Errorf("identity = %v, want %v", ws.Event, open.Identity())
	}
}

func TestBuildWritesClosedCarriesPnl(t *testing.T) {
	ws, err := BuildWrites(testutil.NewPositionClosed("7", testutil.TestUser, 105, 0, 2100, -40))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ws.Trade.Pnl == nil {
		t.Fatal("close trade has no pnl")
	}
	if want := fixed.Units(-40, fixed.Wad); !ws.Trade.Pnl.Equal(want) {
		t.Errorf("trade pnl = %s, want %s", ws.Trade.Pnl, want)
	}
	if ws.Transition == nil || ws.Transition.Status != state.StatusClosed {
		t.Errorf("transition = %+v, want Closed", ws.Transition)
	}
	if ws.Position != nil {
		t.Error("close produced a position insert, want transition only")
	}
}

func TestBuildWritesLiquidatedHasNoPricePoint(t *testing.T) {
	ws, err := BuildWrites(testutil.NewPositionLiquidated("7", testutil.TestUser, 110, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ws.PricePoint != nil {
		t.Error("liquidation produced a price point, the feed has no execution price for it")
	}
	if ws.Trade.Pnl != nil {
		t.Error("liquidation trade carries pnl, want none")
	}
	if ws.Transition.Status != state.StatusLiquidated {
		t.Errorf("status = %s, want Liquidated", ws.Transition.Status)
	}
	if ws.HoldingDelta.Kind != state.TradeLiquidate {
		t.Errorf("delta kind = %s, want liquidate", ws.HoldingDelta.Kind)
	}
}

func TestBuildWritesValidation(t *testing.T) {
	t.Run("zero price", func(t *testing.T) {
		open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
		open.EntryPrice = fixed.Amount{}
		if _, err := BuildWrites(open); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("got %v, want ErrMalformedEvent", err)
		}
	})

	t.Run("negative size", func(t *testing.T) {
		open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
		open.BaseSize = fixed.Units(-1, fixed.Wad)
		if _, err := BuildWrites(open); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("got %v, want ErrMalformedEvent", err)
		}
	})

	t.Run("missing identity", func(t *testing.T) {
		open := testutil.NewPositionOpened("7", testutil.TestUser, 100, 0, 2000, 1, 200)
		open.BlockHash = ""
		if _, err := BuildWrites(open); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("got %v, want ErrMalformedEvent", err)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		closeEvt := testutil.NewPositionClosed("7", "", 100, 0, 2100, 10)
		if _, err := BuildWrites(closeEvt); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("got %v, want ErrMalformedEvent", err)
		}
	})
}
