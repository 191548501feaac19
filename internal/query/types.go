package query

import "PerpIndex/internal/state"

// PositionsResponse carries positions plus the cursor they were read at.
type PositionsResponse struct {
	Positions []state.Position `json:"positions"`
	AsOfBlock uint64           `json:"as_of_block"`
}

type TradesResponse struct {
	Trades    []state.Trade `json:"trades"`
	AsOfBlock uint64        `json:"as_of_block"`
}

type HoldingResponse struct {
	Holding   state.UserHolding `json:"holding"`
	Exists    bool              `json:"exists"`
	AsOfBlock uint64            `json:"as_of_block"`
}

type MarketsResponse struct {
	Markets   []state.Market `json:"markets"`
	AsOfBlock uint64         `json:"as_of_block"`
}

type PricePointsResponse struct {
	PricePoints []state.PricePoint `json:"price_points"`
	AsOfBlock   uint64             `json:"as_of_block"`
}
