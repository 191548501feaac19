// Package query provides read-only access to derived state. Responses
// include as_of_block so callers can reason about freshness.
package query

import (
	"context"
	"fmt"

	"PerpIndex/internal/book"
	"PerpIndex/internal/store"
)

// Service answers read queries from the primary store and the open
// position book.
type Service struct {
	store store.Store
	book  book.Book
}

func NewService(s store.Store, b book.Book) *Service {
	return &Service{store: s, book: b}
}

func (s *Service) asOf(ctx context.Context) (uint64, error) {
	block, _, err := s.store.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return block, nil
}

// UserPositions returns every position a user has held.
func (s *Service) UserPositions(ctx context.Context, user string) (*PositionsResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetUserPositions(ctx, user)
	if err != nil {
		return nil, err
	}
	return &PositionsResponse{Positions: positions, AsOfBlock: asOf}, nil
}

// MarketPositions returns every position on an engine.
func (s *Service) MarketPositions(ctx context.Context, engine string) (*PositionsResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetPositionsByMarket(ctx, engine)
	if err != nil {
		return nil, err
	}
	return &PositionsResponse{Positions: positions, AsOfBlock: asOf}, nil
}

// OpenPositions returns the currently open positions on an engine,
// answered by the configured reconstruction strategy.
func (s *Service) OpenPositions(ctx context.Context, engine string) (*PositionsResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.book.Open(ctx, engine)
	if err != nil {
		return nil, err
	}
	return &PositionsResponse{Positions: positions, AsOfBlock: asOf}, nil
}

// UserTrades returns a user's trade history in log order.
func (s *Service) UserTrades(ctx context.Context, user string) (*TradesResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.GetTradesByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TradesResponse{Trades: trades, AsOfBlock: asOf}, nil
}

// UserHolding returns the aggregate for (user, engine). A missing record
// reports zero values with Exists=false rather than an error.
func (s *Service) UserHolding(ctx context.Context, user, engine string) (*HoldingResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	holding, ok, err := s.store.GetHolding(ctx, user, engine)
	if err != nil {
		return nil, err
	}
	return &HoldingResponse{Holding: holding, Exists: ok, AsOfBlock: asOf}, nil
}

// Markets lists all known markets.
func (s *Service) Markets(ctx context.Context) (*MarketsResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return &MarketsResponse{Markets: markets, AsOfBlock: asOf}, nil
}

// PricePoints returns the most recent execution price samples for an
// engine in block order.
func (s *Service) PricePoints(ctx context.Context, engine string, limit int) (*PricePointsResponse, error) {
	asOf, err := s.asOf(ctx)
	if err != nil {
		return nil, err
	}
	points, err := s.store.GetPricePoints(ctx, engine, limit)
	if err != nil {
		return nil, err
	}
	return &PricePointsResponse{PricePoints: points, AsOfBlock: asOf}, nil
}
