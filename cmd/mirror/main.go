// Command mirror runs the client-side indexer: websocket live feed plus
// bounded backfill, in-memory store with windowed open-position
// reconstruction, and periodic local snapshots.
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
	"PerpIndex/internal/event"
	"PerpIndex/internal/ingestion"
	"PerpIndex/internal/observability"
	"PerpIndex/internal/persistence"
	"PerpIndex/internal/query"
	"PerpIndex/internal/server"
	"PerpIndex/internal/store"
)

func main() {
	godotenv.Load()

	log := observability.NewLogger("mirror")

	cfg, err := config.Load(os.Getenv("PERPIDX_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Mirror.Engine == "" {
		log.Fatal().Msg("mirror.engine (PERPIDX_MIRROR_ENGINE) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Local state ---
	mem := store.NewMemory()
	local := persistence.NewLocalStore(cfg.Mirror.StateDir)
	if snap, err := local.Load(); err != nil {
		log.Warn().Err(err).Msg("local snapshot unreadable, cold start")
	} else if snap != nil {
		mem.Restore(snap)
		log.Info().Uint64("cursor", snap.Cursor).Msg("local snapshot restored")
	}

	// --- Engine ---
	engine := core.NewEngine(mem, core.Config{
		ReorgTolerance: cfg.Engine.ReorgTolerance,
		DedupCapacity:  cfg.Engine.DedupCapacity,
	}, log, metrics)
	if err := engine.RestoreCursor(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore cursor")
	}

	// --- Feed + reconstruction ---
	feed := ingestion.NewWSSource(ingestion.WSConfig{
		URL:      cfg.Feed.WSURL,
		QueryURL: cfg.Feed.QueryURL,
	}, log)
	positionBook := book.NewWindowedBook(feed, cfg.Mirror.WindowBlocks, log)
	backfiller := ingestion.NewBackfiller(feed, cfg.Mirror.BackfillPage, log, metrics)

	engine.OnReset(func(_ context.Context) {
		positionBook.Reset()
		if err := local.Clear(); err != nil {
			log.Error().Err(err).Msg("clear local snapshot")
		}
	})

	// resync rebuilds the windowed book and replays the trailing window
	// through the engine. Runs on every (re)connect; idempotency absorbs
	// the overlap with live delivery.
	resync := func(ctx context.Context) {
		head, ok := engine.Cursor()
		if !ok {
			log.Info().Msg("no cursor yet, skipping backfill until live events arrive")
			return
		}
		from := uint64(0)
		if head > cfg.Mirror.WindowBlocks {
			from = head - cfg.Mirror.WindowBlocks
		}
		if err := backfiller.Run(ctx, from, head, func(ctx context.Context, evt event.Event) error {
			_, err := engine.Process(ctx, evt)
			if errors.Is(err, core.ErrMalformedEvent) {
				// One bad historical log must not abort the whole scan.
				return nil
			}
			return err
		}); err != nil {
			log.Error().Err(err).Msg("backfill failed")
		}
		if err := positionBook.Rebuild(ctx, cfg.Mirror.Engine, head); err != nil {
			log.Error().Err(err).Msg("book rebuild failed")
		}
	}

	eventChan := make(chan ingestion.RawEvent, cfg.NATS.ChannelSize)
	go func() {
		if err := feed.Subscribe(ctx, eventChan, resync); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed subscription ended")
		}
	}()

	// --- Query API ---
	svc := query.NewService(mem, positionBook)
	httpServer := server.New(cfg.HTTP.Addr, svc, health, metrics, log)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	// --- Processing loop ---
	go processLoop(ctx, eventChan, engine, positionBook, resync, log)

	// --- Periodic local snapshots ---
	go func() {
		ticker := time.NewTicker(cfg.Mirror.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := local.Save(mem.Snapshot()); err != nil {
					log.Error().Err(err).Msg("local snapshot failed")
				}
			}
		}
	}()

	health.SetReady(true)
	log.Info().
		Str("engine", cfg.Mirror.Engine).
		Str("feed", cfg.Feed.WSURL).
		Str("http", cfg.HTTP.Addr).
		Msg("mirror ready")

	<-ctx.Done()

	// --- Graceful shutdown: final snapshot, then stop serving ---
	health.SetReady(false)
	if err := local.Save(mem.Snapshot()); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	log.Info().Msg("mirror shutdown complete")
}

// processLoop drains the live feed through the engine and the open book.
// On a cold start the connect-time resync has no cursor to anchor a
// backfill; the first applied live event establishes one, so the
// trailing-window replay fires here, once, at that point.
func processLoop(ctx context.Context, eventChan <-chan ingestion.RawEvent, engine *core.Engine, positionBook *book.WindowedBook, resync func(context.Context), log zerolog.Logger) {
	_, haveCursor := engine.Cursor()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-eventChan:
			evt, err := ingestion.ParseRawEvent(raw, raw.Subject)
			if err != nil {
				log.Warn().Str("event_type", raw.Subject).Err(err).Msg("malformed event dropped")
				continue
			}
			ws, err := engine.Process(ctx, evt)
			if err != nil {
				log.Error().Str("event_type", raw.Subject).Err(err).Msg("event processing failed")
				continue
			}
			if ws == nil {
				continue
			}
			positionBook.Apply(evt)
			if !haveCursor {
				haveCursor = true
				go resync(ctx)
			}
		}
	}
}
