package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"PerpIndex/internal/event"
)

// Frame is the feed's wire envelope: the event type tag plus the typed
// payload, used both on the websocket and on the range-query endpoint.
type Frame struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode converts a frame into its typed event.
func (f Frame) Decode() (event.Event, error) {
	return ParseRawEvent(RawEvent{Data: f.Payload}, f.EventType)
}

// WSConfig configures the client mirror's feed connection.
type WSConfig struct {
	// URL is the websocket endpoint for the live subscription.
	URL string
	// QueryURL is the HTTP endpoint serving the getLogs range scan.
	QueryURL string

	ReconnectWait time.Duration
	PingInterval  time.Duration
}

// WSSource is the client mirror's event feed: a live websocket
// subscription plus an HTTP range query for backfill. The websocket has
// no delivery guarantees, so frames carry no ack; idempotency downstream
// absorbs the replays a reconnect produces.
type WSSource struct {
	cfg    WSConfig
	client *http.Client
	log    zerolog.Logger
}

func NewWSSource(cfg WSConfig, log zerolog.Logger) *WSSource {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WSSource{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Subscribe connects to the feed and pushes frames into eventChan until
// the context is cancelled, reconnecting on any read failure. Each
// successful (re)connection invokes onConnect, which the mirror uses to
// trigger a window rebuild.
func (s *WSSource) Subscribe(ctx context.Context, eventChan chan<- RawEvent, onConnect func(context.Context)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("url", s.cfg.URL).Msg("feed dial failed, retrying")
			select {
			case <-time.After(s.cfg.ReconnectWait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.log.Info().Str("url", s.cfg.URL).Msg("feed connected")
		if onConnect != nil {
			onConnect(ctx)
		}

		err = s.readLoop(ctx, conn, eventChan)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("feed disconnected, reconnecting")

		select {
		case <-time.After(s.cfg.ReconnectWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, eventChan chan<- RawEvent) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Error().Err(err).Msg("malformed feed frame dropped")
			continue
		}

		raw := RawEvent{
			Subject:   frame.EventType,
			Data:      frame.Payload,
			Timestamp: time.Now(),
		}

		select {
		case eventChan <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetLogs implements the range-query side of the feed over HTTP.
func (s *WSSource) GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]event.Event, error) {
	values := url.Values{}
	values.Set("from_block", fmt.Sprintf("%d", fromBlock))
	values.Set("to_block", fmt.Sprintf("%d", toBlock))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.QueryURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get logs [%d,%d]: %w", fromBlock, toBlock, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get logs [%d,%d]: status %d: %s", fromBlock, toBlock, resp.StatusCode, detail)
	}

	var frames []Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}

	events := make([]event.Event, 0, len(frames))
	for _, frame := range frames {
		evt, err := frame.Decode()
		if err != nil {
			s.log.Error().Err(err).Str("event_type", frame.EventType).Msg("malformed historical frame dropped")
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}
