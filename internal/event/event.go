package event

import (
	"fmt"
	"time"
)

// EventType discriminates the closed set of venue events.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketCreated
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePositionLiquidated
)

func (et EventType) String() string {
	switch et {
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	default:
		return "Unknown"
	}
}

// ID is the identity key of a raw event: (blockHash, logIndex). It is
// globally unique and stable across redelivery, which makes it the
// idempotency key for every derived trade row.
type ID struct {
	BlockHash string
	LogIndex  uint32
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.BlockHash, id.LogIndex)
}

// IsZero reports whether the identity is unset.
func (id ID) IsZero() bool {
	return id.BlockHash == ""
}

// Event is the interface all venue events implement.
type Event interface {
	// Identity returns the replay-stable (blockHash, logIndex) key.
	Identity() ID

	// EventType returns the discriminator.
	EventType() EventType

	// EngineAddress returns the engine contract this event belongs to.
	EngineAddress() string

	// Block returns the block number the event was emitted in.
	Block() uint64

	// Time returns the block timestamp (a versioned input, not wall clock).
	Time() time.Time
}
