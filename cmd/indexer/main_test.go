package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"PerpIndex/internal/core"
	"PerpIndex/internal/ingestion"
	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
	"PerpIndex/internal/testutil"
)

// brokenStore fails every commit, standing in for an unreachable primary.
type brokenStore struct {
	*store.Memory
}

func (b *brokenStore) ApplyWrites(context.Context, *state.WriteSet) error {
	return errors.New("connection refused")
}

func openedRaw(t *testing.T, subject, entryPrice string, ack, nak *bool) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"position_id":     "7",
		"engine":          testutil.TestEngine,
		"user":            testutil.TestUser,
		"is_long":         true,
		"entry_price":     entryPrice,
		"base_size":       "1000000000000000000",
		"margin":          "200000000",
		"leverage":        "10000000000000000000",
		"block_hash":      testutil.BlockHash(100),
		"log_index":       0,
		"block_number":    100,
		"block_timestamp": testutil.BlockTime(100).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject: subject,
		Data:    data,
		AckFunc: func() { *ack = true },
		NakFunc: func() { *nak = true },
	}
}

func TestProcessRawAckNakPolicy(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	log := zerolog.Nop()
	ctx := context.Background()
	subject := "perp.positions.opened.0xengine"

	t.Run("primary store failure naks for redelivery", func(t *testing.T) {
		eng := core.NewEngine(&brokenStore{store.NewMemory()}, core.Config{}, log, nil)
		publishChan := make(chan ingestion.AppliedEvent, 1)
		var acked, naked bool
		raw := openedRaw(t, subject, "2000000000000000000000", &acked, &naked)

		processRaw(ctx, raw, subjects, eng, nil, publishChan, log)
		if !naked || acked {
			t.Errorf("ack=%v nak=%v, want nak only", acked, naked)
		}
	})

	t.Run("malformed event acks as terminal", func(t *testing.T) {
		eng := core.NewEngine(store.NewMemory(), core.Config{}, log, nil)
		publishChan := make(chan ingestion.AppliedEvent, 1)
		var acked, naked bool
		raw := openedRaw(t, subject, "0", &acked, &naked)

		processRaw(ctx, raw, subjects, eng, nil, publishChan, log)
		if !acked || naked {
			t.Errorf("ack=%v nak=%v, want ack only", acked, naked)
		}
	})

	t.Run("unknown subject acks", func(t *testing.T) {
		eng := core.NewEngine(store.NewMemory(), core.Config{}, log, nil)
		publishChan := make(chan ingestion.AppliedEvent, 1)
		var acked, naked bool
		raw := openedRaw(t, "spot.orders.filled.0xengine", "2000000000000000000000", &acked, &naked)

		processRaw(ctx, raw, subjects, eng, nil, publishChan, log)
		if !acked || naked {
			t.Errorf("ack=%v nak=%v, want ack only", acked, naked)
		}
	})

	t.Run("success acks and publishes", func(t *testing.T) {
		eng := core.NewEngine(store.NewMemory(), core.Config{}, log, nil)
		publishChan := make(chan ingestion.AppliedEvent, 1)
		var acked, naked bool
		raw := openedRaw(t, subject, "2000000000000000000000", &acked, &naked)

		processRaw(ctx, raw, subjects, eng, nil, publishChan, log)
		if !acked || naked {
			t.Fatalf("ack=%v nak=%v, want ack only", acked, naked)
		}
		select {
		case applied := <-publishChan:
			if applied.EventType != "PositionOpened" {
				t.Errorf("published event type = %q, want %q", applied.EventType, "PositionOpened")
			}
		default:
			t.Error("applied event not published")
		}
	})
}
