package mirror

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"PerpIndex/internal/observability"
	"PerpIndex/internal/state"
)

// DefaultConcurrency bounds in-flight secondary replication tasks.
const DefaultConcurrency = 8

// Coordinator replicates applied write sets to the secondary store on a
// bounded task group. Replication is fire-and-forget: a failed or dropped
// task is logged with enough detail to reconcile by hand and never
// surfaces to the primary path.
type Coordinator struct {
	secondary SecondaryStore
	group     *errgroup.Group
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewCoordinator(secondary SecondaryStore, concurrency int, log zerolog.Logger, metrics *observability.Metrics) *Coordinator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	return &Coordinator{
		secondary: secondary,
		group:     g,
		log:       log,
		metrics:   metrics,
	}
}

// Mirror schedules replication of one applied write set. When the task
// group is saturated the set is dropped and counted; the secondary store
// is best-effort by contract.
func (c *Coordinator) Mirror(ctx context.Context, ws *state.WriteSet) {
	if c.secondary == nil || ws == nil {
		return
	}

	writes := BuildWrites(ws)
	if len(writes) == 0 {
		return
	}

	requestID := uuid.NewString()
	identity := ws.Event.String()

	scheduled := c.group.TryGo(func() error {
		c.replicate(ctx, requestID, identity, writes)
		return nil
	})
	if !scheduled {
		if c.metrics != nil {
			c.metrics.SecondaryDropped.Inc()
		}
		c.log.Warn().
			Str("request_id", requestID).
			Str("identity", identity).
			Int("writes", len(writes)).
			Msg("secondary replication dropped, task group saturated")
	}
}

func (c *Coordinator) replicate(ctx context.Context, requestID, identity string, writes []Write) {
	for _, w := range writes {
		start := time.Now()

		var err error
		if w.Filter != nil {
			err = c.secondary.Update(ctx, w.Table, w.Filter, w.Rows)
		} else {
			err = c.secondary.Upsert(ctx, w.Table, w.Rows)
		}

		if c.metrics != nil {
			c.metrics.SecondaryDuration.WithLabelValues(w.Table).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if c.metrics != nil {
				c.metrics.SecondaryFailures.WithLabelValues(w.Table).Inc()
			}
			c.log.Error().
				Str("request_id", requestID).
				Str("identity", identity).
				Str("table", w.Table).
				Err(err).
				Msg("secondary write failed")
			continue
		}

		if c.metrics != nil {
			c.metrics.SecondaryWrites.WithLabelValues(w.Table).Inc()
		}
	}
}

// Close waits for in-flight replication tasks to drain.
func (c *Coordinator) Close() {
	_ = c.group.Wait()
}
