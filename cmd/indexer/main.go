// Command indexer runs the server-side event indexer: NATS JetStream
// ingestion, Postgres primary store, optional best-effort secondary REST
// store, and the HTTP query API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"PerpIndex/internal/book"
	"PerpIndex/internal/config"
	"PerpIndex/internal/core"
	"PerpIndex/internal/ingestion"
	"PerpIndex/internal/mirror"
	"PerpIndex/internal/observability"
	"PerpIndex/internal/persistence"
	"PerpIndex/internal/query"
	"PerpIndex/internal/server"
	"PerpIndex/internal/store"
)

func main() {
	godotenv.Load()

	log := observability.NewLogger("indexer")

	cfg, err := config.Load(os.Getenv("PERPIDX_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Primary store ---
	pg, err := store.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer pg.Close()
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(pg.DB(), cfg.Postgres.MigrationsDir, log)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Engine ---
	engine := core.NewEngine(pg, core.Config{
		ReorgTolerance: cfg.Engine.ReorgTolerance,
		DedupCapacity:  cfg.Engine.DedupCapacity,
	}, log, metrics)
	if err := engine.RestoreCursor(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore cursor")
	}

	// --- Secondary store (optional) ---
	var coordinator *mirror.Coordinator
	if cfg.Secondary.Enabled() {
		secondary := mirror.NewRESTStore(mirror.RESTConfig{
			BaseURL:           cfg.Secondary.URL,
			APIKey:            cfg.Secondary.APIKey,
			Token:             cfg.Secondary.Token,
			RequestsPerSecond: cfg.Secondary.RequestsPerSecond,
		})
		coordinator = mirror.NewCoordinator(secondary, cfg.Secondary.Concurrency, log, metrics)
		log.Info().Str("url", cfg.Secondary.URL).Msg("secondary store enabled")
	} else {
		log.Info().Msg("secondary store disabled")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	subjects := ingestion.DefaultSubjects()
	rawEventChan := make(chan ingestion.RawEvent, cfg.NATS.ChannelSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, log)
	if err := subscriber.Subscribe(ctx, subjects); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	publishChan := make(chan ingestion.AppliedEvent, cfg.NATS.ChannelSize)
	publisher := ingestion.NewOutboundPublisher(js, publishChan, log)
	go publisher.Run(ctx)

	// --- Query API ---
	svc := query.NewService(pg, book.NewDirectBook(pg))
	httpServer := server.New(cfg.HTTP.Addr, svc, health, metrics, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- httpServer.Start() }()

	// --- Ingestion loop ---
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawEventChan:
				if !ok {
					return
				}
				processRaw(ctx, raw, subjects, engine, coordinator, publishChan, log)
			}
		}
	}()

	health.SetReady(true)
	log.Info().Str("http", cfg.HTTP.Addr).Msg("indexer ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	// --- Graceful shutdown ---
	health.SetReady(false)
	subscriber.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if coordinator != nil {
		coordinator.Close()
	}
	close(publishChan)

	log.Info().Msg("indexer shutdown complete")
}

// processRaw drives one feed message through parse, apply, mirror, and
// the delivery acknowledgement. A primary-store failure naks the message
// for redelivery; everything else acks so poison messages cannot wedge
// the stream.
func processRaw(
	ctx context.Context,
	raw ingestion.RawEvent,
	subjects []ingestion.SubjectConfig,
	engine *core.Engine,
	coordinator *mirror.Coordinator,
	publishChan chan<- ingestion.AppliedEvent,
	log zerolog.Logger,
) {
	eventType, ok := ingestion.EventTypeForSubject(subjects, raw.Subject)
	if !ok {
		log.Warn().Str("subject", raw.Subject).Msg("unknown subject acked")
		raw.Ack()
		return
	}

	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		log.Warn().Str("subject", raw.Subject).Err(err).Msg("unparseable event acked")
		raw.Ack()
		return
	}

	ws, err := engine.Process(ctx, evt)
	if err != nil {
		var storeErr *core.PrimaryStoreError
		if errors.As(err, &storeErr) {
			raw.Nak()
			return
		}
		// Malformed events are terminal; redelivery cannot fix them.
		raw.Ack()
		return
	}
	raw.Ack()

	if ws == nil {
		return
	}
	if coordinator != nil {
		coordinator.Mirror(ctx, ws)
	}

	select {
	case publishChan <- ingestion.AppliedEvent{
		EventType:   eventType,
		IdentityKey: ws.Event.String(),
		BlockNumber: ws.Block,
		Payload:     ws.Trade,
		Timestamp:   time.Now(),
	}:
	default:
		// The outbound feed is best-effort; drop when full.
	}
}
