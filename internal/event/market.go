package event

import "time"

// MarketCreated is emitted once when a market is deployed on the venue.
type MarketCreated struct {
	MarketIndex     string
	Engine          string
	Market          string
	CollateralToken string
	BlockHash       string
	LogIndex        uint32
	BlockNumber     uint64
	BlockTime       time.Time
}

func (m *MarketCreated) Identity() ID {
	return ID{BlockHash: m.BlockHash, LogIndex: m.LogIndex}
}

func (m *MarketCreated) EventType() EventType { return EventTypeMarketCreated }

func (m *MarketCreated) EngineAddress() string { return m.Engine }

func (m *MarketCreated) Block() uint64 { return m.BlockNumber }

func (m *MarketCreated) Time() time.Time { return m.BlockTime }
