package core

import "sync"

// Outcome classifies one progress-cursor observation.
type Outcome int

const (
	// OutcomeAdvanced: the block number moved the cursor forward.
	OutcomeAdvanced Outcome = iota

	// OutcomeIgnored: a late arrival at or behind the cursor, within
	// tolerance. The event is still processed; the cursor does not move.
	OutcomeIgnored

	// OutcomeReset: a backward jump beyond tolerance. The chain (or a
	// local test network) rewound; all derived caches must be flushed
	// and the cursor restarts at the observed block.
	OutcomeReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// DefaultReorgTolerance is the backward-jump depth, in blocks, tolerated
// as benign reordering before a reset is declared.
const DefaultReorgTolerance = 50

// Monitor tracks the stream's progress cursor: the highest block number
// observed. It distinguishes benign out-of-order delivery (small backward
// jumps) from a rewound stream (deep backward jumps).
type Monitor struct {
	mu        sync.Mutex
	cursor    uint64
	seen      bool
	tolerance uint64
}

// NewMonitor creates a Monitor with the given tolerance (0 uses the default).
func NewMonitor(tolerance uint64) *Monitor {
	if tolerance == 0 {
		tolerance = DefaultReorgTolerance
	}
	return &Monitor{tolerance: tolerance}
}

// Observe classifies a block-number sample and updates the cursor.
// On OutcomeReset the cursor is set to the observed block.
func (m *Monitor) Observe(block uint64) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seen || block > m.cursor {
		m.cursor = block
		m.seen = true
		return OutcomeAdvanced
	}

	if m.cursor-block <= m.tolerance {
		return OutcomeIgnored
	}

	m.cursor = block
	return OutcomeReset
}

// Current returns the cursor and whether any block has been observed.
func (m *Monitor) Current() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, m.seen
}

// Restore seeds the cursor from persisted state on startup.
func (m *Monitor) Restore(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = block
	m.seen = true
}
