package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher republishes applied events for downstream consumers
// after the primary write has committed.
// Subjects follow the pattern: perp.index.applied.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan AppliedEvent
	log       zerolog.Logger
}

// AppliedEvent is a processed event ready for outbound publishing.
type AppliedEvent struct {
	EventType   string      `json:"event_type"`
	IdentityKey string      `json:"identity_key"`
	BlockNumber uint64      `json:"block_number"`
	Payload     interface{} `json:"payload"`
	Timestamp   time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan AppliedEvent, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run drains the input channel until it closes or the context cancels.
// Publish failures are logged and skipped: the outbound stream is a
// convenience feed, not part of the primary commit path.
func (p *OutboundPublisher) Run(ctx context.Context) {
	for {
		select {
		case applied, ok := <-p.inputChan:
			if !ok {
				p.log.Info().Msg("outbound publisher stopped")
				return
			}
			if err := p.publish(ctx, applied); err != nil {
				p.log.Error().
					Str("event_type", applied.EventType).
					Str("identity", applied.IdentityKey).
					Err(err).
					Msg("outbound publish failed")
			}
		case <-ctx.Done():
			p.log.Info().Msg("outbound publisher stopped")
			return
		}
	}
}

// EnsureOutboundStream creates the stream backing the applied-event feed.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_INDEX",
		Subjects:  []string{"perp.index.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream PERP_INDEX: %w", err)
	}
	return nil
}

func (p *OutboundPublisher) publish(ctx context.Context, applied AppliedEvent) error {
	data, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("marshal applied event: %w", err)
	}

	subject := "perp.index.applied." + strings.ToLower(applied.EventType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
