// Package book reconstructs the "currently open positions" view. Two
// strategies exist: a direct filtered query against a durable store
// (indexer side), and bounded-window log replay for clients with no
// queryable position store.
package book

import (
	"context"

	"PerpIndex/internal/state"
	"PerpIndex/internal/store"
)

// Book yields the open positions for one engine.
type Book interface {
	Open(ctx context.Context, engine string) ([]state.Position, error)
}

// DirectBook answers from the primary store, which maintains position
// status transitions as events arrive.
type DirectBook struct {
	store store.Store
}

func NewDirectBook(s store.Store) *DirectBook {
	return &DirectBook{store: s}
}

func (b *DirectBook) Open(ctx context.Context, engine string) ([]state.Position, error) {
	return b.store.GetOpenPositions(ctx, engine)
}
