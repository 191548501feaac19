package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpIndex/internal/book"
	"PerpIndex/internal/core"
	"PerpIndex/internal/event"
	"PerpIndex/internal/ingestion"
	"PerpIndex/internal/store"
	"PerpIndex/internal/testutil"
)

type stubScanner struct{}

func (stubScanner) GetLogs(context.Context, uint64, uint64) ([]event.Event, error) {
	return nil, nil
}

func rawOpened(t *testing.T, positionID string, block uint64) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"position_id":     positionID,
		"engine":          testutil.TestEngine,
		"user":            testutil.TestUser,
		"is_long":         true,
		"entry_price":     "2000000000000000000000",
		"base_size":       "1000000000000000000",
		"margin":          "200000000",
		"leverage":        "10000000000000000000",
		"block_hash":      testutil.BlockHash(block),
		"log_index":       0,
		"block_number":    block,
		"block_timestamp": testutil.BlockTime(block).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{Subject: "PositionOpened", Data: data}
}

func TestColdStartFiresResyncOnFirstAppliedEvent(t *testing.T) {
	eng := core.NewEngine(store.NewMemory(), core.Config{}, zerolog.Nop(), nil)
	positionBook := book.NewWindowedBook(stubScanner{}, 0, zerolog.Nop())

	fired := make(chan struct{}, 2)
	resync := func(context.Context) { fired <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventChan := make(chan ingestion.RawEvent, 4)
	go processLoop(ctx, eventChan, eng, positionBook, resync, zerolog.Nop())

	// No cursor exists before the first live event; applying it must
	// trigger the trailing-window replay without waiting for a reconnect.
	eventChan <- rawOpened(t, "1", 100)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("resync not fired after the first applied event")
	}

	eventChan <- rawOpened(t, "2", 101)
	select {
	case <-fired:
		t.Fatal("resync fired again after the first applied event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWarmStartLeavesResyncToConnectCallback(t *testing.T) {
	eng := core.NewEngine(store.NewMemory(), core.Config{}, zerolog.Nop(), nil)
	seed := testutil.NewPositionOpened("seed", testutil.TestUser, 50, 0, 2000, 1, 200)
	if _, err := eng.Process(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	positionBook := book.NewWindowedBook(stubScanner{}, 0, zerolog.Nop())

	fired := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventChan := make(chan ingestion.RawEvent, 1)
	go processLoop(ctx, eventChan, eng, positionBook, func(context.Context) { fired <- struct{}{} }, zerolog.Nop())

	eventChan <- rawOpened(t, "1", 100)
	select {
	case <-fired:
		t.Fatal("resync fired with a cursor already established")
	case <-time.After(200 * time.Millisecond):
	}
}
