// Package core implements the event-to-state aggregation engine: the
// idempotent upsert layer, the aggregate maintainer, and the stream
// continuity monitor, applied atomically per event through a Store.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpIndex/internal/event"
	"PerpIndex/internal/observability"
	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
)

// Config tunes the engine.
type Config struct {
	// ReorgTolerance is the backward-jump depth (blocks) tolerated before
	// a stream reset is declared. 0 uses DefaultReorgTolerance.
	ReorgTolerance uint64

	// DedupCapacity is the in-memory duplicate-detection LRU size.
	// 0 uses a large default.
	DedupCapacity int
}

const defaultDedupCapacity = 1 << 20

// Engine turns the raw event feed into derived state. Writes to the same
// aggregate key are serialized; distinct keys proceed in parallel, which
// makes overlapping live delivery and historical backfill safe.
type Engine struct {
	store   store.Store
	dedup   *Deduper
	monitor *Monitor
	locks   keyLocks
	resetMu sync.RWMutex
	log     zerolog.Logger
	metrics *observability.Metrics

	onReset []func(context.Context)
}

func NewEngine(s store.Store, cfg Config, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Engine{
		store:   s,
		dedup:   NewDeduper(capacity, s),
		monitor: NewMonitor(cfg.ReorgTolerance),
		log:     log,
		metrics: metrics,
	}
}

// OnReset registers a callback fired after a stream discontinuity has
// flushed the store. Used to clear reconstructed books and local caches.
func (e *Engine) OnReset(fn func(context.Context)) {
	e.onReset = append(e.onReset, fn)
}

// RestoreCursor seeds the continuity monitor from the persisted cursor.
func (e *Engine) RestoreCursor(ctx context.Context) error {
	block, ok, err := e.store.Cursor(ctx)
	if err != nil {
		return err
	}
	if ok {
		e.monitor.Restore(block)
		if e.metrics != nil {
			e.metrics.CursorBlock.Set(float64(block))
		}
		e.log.Info().Uint64("block", block).Msg("cursor restored")
	}
	return nil
}

// Cursor returns the current progress cursor.
func (e *Engine) Cursor() (uint64, bool) {
	return e.monitor.Current()
}

// Process applies one event: validate, watch the cursor, deduplicate,
// fold the aggregate delta, and commit the write set atomically.
//
// Returns the applied write set for downstream mirroring, or nil when the
// event was a duplicate. A *PrimaryStoreError means the event is
// unprocessed and must be redelivered; ErrMalformedEvent means it must not.
func (e *Engine) Process(ctx context.Context, evt event.Event) (*state.WriteSet, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	ws, err := BuildWrites(evt)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EventsRejected.WithLabelValues(eventType, "malformed").Inc()
		}
		e.log.Error().
			Str("event_type", eventType).
			Str("identity", evt.Identity().String()).
			Err(err).
			Msg("event rejected")
		return nil, err
	}

	outcome := e.monitor.Observe(ws.Block)
	switch outcome {
	case OutcomeReset:
		// The flush must exclude in-flight commits on other keys: a
		// write that passed dedup before the reset has to land before
		// the flush, never after it. The triggering event itself is
		// processed normally against the now-empty state.
		e.resetMu.Lock()
		e.reset(ctx, ws.Block)
		e.resetMu.Unlock()
		ws.Cursor = &ws.Block
	case OutcomeAdvanced:
		ws.Cursor = &ws.Block
	case OutcomeIgnored:
		if e.metrics != nil {
			e.metrics.LateArrivals.Inc()
		}
	}

	// The same-key lock covers dedup, the aggregate read-modify-write and
	// the commit, so a concurrent redelivery cannot double-count. The
	// reset read-lock pins the whole section on one side of any
	// concurrent flush.
	e.resetMu.RLock()
	defer e.resetMu.RUnlock()
	unlock := e.locks.lock(e.serializationKey(ws))
	defer unlock()

	if dup, tier := e.dedup.Seen(ctx, ws.Event); dup {
		if e.metrics != nil {
			e.metrics.Duplicates.WithLabelValues(tier).Inc()
		}
		return nil, nil
	}

	if ws.HoldingDelta != nil {
		if err := e.foldHolding(ctx, ws); err != nil {
			return nil, &PrimaryStoreError{ID: ws.Event, Err: err}
		}
	}

	if err := e.store.ApplyWrites(ctx, ws); err != nil {
		if e.metrics != nil {
			e.metrics.EventsRejected.WithLabelValues(eventType, "primary_store").Inc()
		}
		return nil, &PrimaryStoreError{ID: ws.Event, Err: err}
	}

	e.dedup.Mark(ws.Event)

	if e.metrics != nil {
		e.metrics.EventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.EventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		if ws.Cursor != nil {
			e.metrics.CursorBlock.Set(float64(*ws.Cursor))
		}
	}

	return ws, nil
}

// foldHolding reads the current aggregate for the delta's key and fills
// in the resolved holding. A close or liquidation for a key with no
// existing record skips the aggregate entirely (the open predates the
// observer); the trade row still lands.
func (e *Engine) foldHolding(ctx context.Context, ws *state.WriteSet) error {
	d := *ws.HoldingDelta

	current, ok, err := e.store.GetHolding(ctx, d.User, d.Engine)
	if err != nil {
		return err
	}
	if !ok {
		if d.Kind != state.TradeOpen {
			e.log.Debug().
				Str("user", d.User).
				Str("engine", d.Engine).
				Str("identity", ws.Event.String()).
				Msg("close without prior holding, decrement skipped")
			return nil
		}
		current = state.UserHolding{User: d.User, Engine: d.Engine}
	}

	next := current.Apply(d)
	ws.Holding = &next
	return nil
}

func (e *Engine) serializationKey(ws *state.WriteSet) string {
	if ws.HoldingDelta != nil {
		return ws.HoldingDelta.Key().String()
	}
	if ws.Market != nil {
		return "market:" + ws.Market.MarketIndex
	}
	return ws.Event.String()
}

func (e *Engine) reset(ctx context.Context, block uint64) {
	e.log.Warn().
		Uint64("block", block).
		Msg("stream discontinuity detected, flushing derived state")

	if err := e.store.Flush(ctx); err != nil {
		e.log.Error().Err(err).Msg("flush after stream reset failed")
	}
	e.dedup.Reset()

	for _, fn := range e.onReset {
		fn(ctx)
	}

	if e.metrics != nil {
		e.metrics.StreamResets.Inc()
	}
}
