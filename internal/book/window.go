package book

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"PerpIndex/internal/event"
	"PerpIndex/internal/state"
)

// DefaultWindow is the trailing block range replayed on (re)initialization.
const DefaultWindow uint64 = 10_000

// LogScanner is the pull side of the event feed: a range query over
// historical logs.
type LogScanner interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]event.Event, error)
}

// WindowedBook reconstructs open positions by replaying a bounded
// trailing window of logs: every open whose position id never appears in
// a close or liquidation within the window is considered open. Live
// events thereafter maintain the set incrementally.
//
// Known limitation: a position opened before the trailing window and not
// closed within it is invisible to a fresh client. That is an accepted
// boundary of the bounded-window strategy, not a defect this type masks.
type WindowedBook struct {
	scanner LogScanner
	window  uint64
	log     zerolog.Logger

	mu         sync.RWMutex
	open       map[string]state.Position // by position id
	rebuilding bool
	pending    []event.Event // live deltas that landed mid-rebuild
}

func NewWindowedBook(scanner LogScanner, window uint64, log zerolog.Logger) *WindowedBook {
	if window == 0 {
		window = DefaultWindow
	}
	return &WindowedBook{
		scanner: scanner,
		window:  window,
		log:     log,
		open:    make(map[string]state.Position),
	}
}

// Rebuild replays the trailing window ending at head and replaces the
// open set for the given engine with the reconstruction.
func (b *WindowedBook) Rebuild(ctx context.Context, engine string, head uint64) error {
	from := uint64(0)
	if head > b.window {
		from = head - b.window
	}

	b.mu.Lock()
	b.rebuilding = true
	b.pending = nil
	b.mu.Unlock()

	logs, err := b.scanner.GetLogs(ctx, from, head)
	if err != nil {
		b.mu.Lock()
		b.rebuilding = false
		b.pending = nil
		b.mu.Unlock()
		return err
	}

	opens := make(map[string]state.Position)
	closed := make(map[string]struct{})

	for _, evt := range logs {
		if evt.EngineAddress() != engine {
			continue
		}
		switch e := evt.(type) {
		case *event.PositionOpened:
			opens[e.PositionID] = state.NewPosition(e)
		case *event.PositionClosed:
			closed[e.PositionID] = struct{}{}
		case *event.PositionLiquidated:
			closed[e.PositionID] = struct{}{}
		}
	}

	for id := range closed {
		delete(opens, id)
	}

	b.mu.Lock()
	// Live events that arrived during the scan supersede what the scan
	// saw; replay them onto the reconstruction before it goes live.
	for _, evt := range b.pending {
		fold(opens, evt)
	}
	b.open = opens
	b.rebuilding = false
	b.pending = nil
	count := len(b.open)
	b.mu.Unlock()

	b.log.Info().
		Str("engine", engine).
		Uint64("from_block", from).
		Uint64("to_block", head).
		Int("open_positions", count).
		Msg("open-position book rebuilt")
	return nil
}

// Apply folds one live event into the set.
func (b *WindowedBook) Apply(evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rebuilding {
		b.pending = append(b.pending, evt)
	}
	fold(b.open, evt)
}

func fold(open map[string]state.Position, evt event.Event) {
	switch e := evt.(type) {
	case *event.PositionOpened:
		open[e.PositionID] = state.NewPosition(e)
	case *event.PositionClosed:
		delete(open, e.PositionID)
	case *event.PositionLiquidated:
		delete(open, e.PositionID)
	}
}

// Open returns the reconstructed open positions for the engine, ordered
// by open block then position id.
func (b *WindowedBook) Open(_ context.Context, engine string) ([]state.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]state.Position, 0, len(b.open))
	for _, p := range b.open {
		if p.Engine == engine {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenBlock != out[j].OpenBlock {
			return out[i].OpenBlock < out[j].OpenBlock
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out, nil
}

// Reset clears the reconstruction. Called on stream discontinuity; the
// caller is expected to Rebuild afterwards.
func (b *WindowedBook) Reset() {
	b.mu.Lock()
	b.open = make(map[string]state.Position)
	b.pending = nil
	b.mu.Unlock()
}
