// Package ingestion is the inbound boundary: it turns feed transports
// (NATS JetStream on the indexer, websocket on the client mirror) into
// typed events, and drives historical backfill over the range-query side
// of the feed.
package ingestion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"PerpIndex/internal/event"
	"PerpIndex/internal/observability"
)

// RawEvent is a parsed-but-untyped feed message, ready to be converted
// into a typed event.Event before processing.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // acknowledge after the primary write committed
	NakFunc   func() // negative-acknowledge for redelivery
}

// Ack safely acknowledges the message.
func (r RawEvent) Ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

// Nak safely requests redelivery.
func (r RawEvent) Nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

// LogSource is the pull side of the event feed: a bounded range scan
// over historical logs, ordered by (blockNumber, logIndex).
type LogSource interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]event.Event, error)
}

// DefaultBackfillPage is the block span fetched per range query.
const DefaultBackfillPage uint64 = 2_000

// Backfiller pages a historical block range through a LogSource and
// hands each event to the sink. Overlap with the live subscription is
// safe: the engine's identity-key idempotency absorbs duplicates.
type Backfiller struct {
	source  LogSource
	page    uint64
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewBackfiller(source LogSource, page uint64, log zerolog.Logger, metrics *observability.Metrics) *Backfiller {
	if page == 0 {
		page = DefaultBackfillPage
	}
	return &Backfiller{source: source, page: page, log: log, metrics: metrics}
}

// Run scans [fromBlock, toBlock] inclusive in fixed-size pages. The sink
// is called in log order; a sink error aborts the scan.
func (b *Backfiller) Run(ctx context.Context, fromBlock, toBlock uint64, sink func(context.Context, event.Event) error) error {
	for from := fromBlock; from <= toBlock; {
		to := from + b.page - 1
		if to > toBlock {
			to = toBlock
		}

		logs, err := b.source.GetLogs(ctx, from, to)
		if err != nil {
			return err
		}

		if b.metrics != nil {
			b.metrics.BackfillRanges.Inc()
			b.metrics.BackfillLogs.Add(float64(len(logs)))
		}
		b.log.Debug().
			Uint64("from_block", from).
			Uint64("to_block", to).
			Int("logs", len(logs)).
			Msg("backfill page fetched")

		for _, evt := range logs {
			if err := sink(ctx, evt); err != nil {
				return err
			}
		}

		if to == toBlock {
			break
		}
		from = to + 1

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
