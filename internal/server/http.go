// Package server exposes the query API plus health and metrics endpoints
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpIndex/internal/observability"
	"PerpIndex/internal/query"
)

// Server wraps the HTTP listener and the query routes.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func New(addr string, svc *query.Service, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := &handlers{svc: svc, metrics: metrics, log: log}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", h.markets)
		r.Get("/users/{user}/positions", h.userPositions)
		r.Get("/users/{user}/trades", h.userTrades)
		r.Get("/users/{user}/holdings/{engine}", h.userHolding)
		r.Get("/engines/{engine}/positions", h.marketPositions)
		r.Get("/engines/{engine}/positions/open", h.openPositions)
		r.Get("/engines/{engine}/prices", h.pricePoints)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handlers struct {
	svc     *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func (h *handlers) respond(w http.ResponseWriter, endpoint string, start time.Time, payload any, err error) {
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}

	if h.metrics != nil {
		h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		h.log.Error().Str("endpoint", endpoint).Err(err).Msg("query failed")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}
	json.NewEncoder(w).Encode(payload)
}

func (h *handlers) markets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.Markets(r.Context())
	h.respond(w, "markets", start, resp, err)
}

func (h *handlers) userPositions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.UserPositions(r.Context(), chi.URLParam(r, "user"))
	h.respond(w, "user_positions", start, resp, err)
}

func (h *handlers) userTrades(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.UserTrades(r.Context(), chi.URLParam(r, "user"))
	h.respond(w, "user_trades", start, resp, err)
}

func (h *handlers) userHolding(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.UserHolding(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "engine"))
	h.respond(w, "user_holding", start, resp, err)
}

func (h *handlers) marketPositions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.MarketPositions(r.Context(), chi.URLParam(r, "engine"))
	h.respond(w, "market_positions", start, resp, err)
}

func (h *handlers) openPositions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.OpenPositions(r.Context(), chi.URLParam(r, "engine"))
	h.respond(w, "open_positions", start, resp, err)
}

func (h *handlers) pricePoints(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	resp, err := h.svc.PricePoints(r.Context(), chi.URLParam(r, "engine"), limit)
	h.respond(w, "price_points", start, resp, err)
}
