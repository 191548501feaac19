// Package store defines the primary persistence interface for derived
// state. Implementations include PostgreSQL (durable, indexer side) and
// in-memory (client mirror and tests).
package store

import (
	"context"

	"PerpIndex/internal/event"
	"PerpIndex/internal/state"
)

// Store is the primary store. ApplyWrites must be atomic: either every
// write in the set becomes visible or none does. All entity writes are
// upserts keyed by stable identities, so replaying a set is a no-op
// beyond the first application.
type Store interface {
	// ApplyWrites applies one event's write set atomically.
	ApplyWrites(ctx context.Context, ws *state.WriteSet) error

	// HasTrade reports whether a trade row exists for the event identity.
	// This is the durable tier of duplicate detection.
	HasTrade(ctx context.Context, id event.ID) (bool, error)

	// GetHolding returns the aggregate for (user, engine), reporting
	// whether a record exists.
	GetHolding(ctx context.Context, user, engine string) (state.UserHolding, bool, error)

	// --- Derived read API ---

	GetUserPositions(ctx context.Context, user string) ([]state.Position, error)
	GetPositionsByMarket(ctx context.Context, engine string) ([]state.Position, error)
	GetOpenPositions(ctx context.Context, engine string) ([]state.Position, error)
	GetTradesByUser(ctx context.Context, user string) ([]state.Trade, error)
	ListMarkets(ctx context.Context) ([]state.Market, error)
	GetPricePoints(ctx context.Context, engine string, limit int) ([]state.PricePoint, error)

	// Cursor returns the persisted progress cursor, reporting whether one
	// has been recorded yet.
	Cursor(ctx context.Context) (uint64, bool, error)

	// Flush clears all derived state. Invoked when a stream discontinuity
	// is declared; the replayed feed rebuilds everything from scratch.
	Flush(ctx context.Context) error

	Close() error
}
