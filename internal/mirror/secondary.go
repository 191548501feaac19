// Package mirror implements the best-effort dual-write path: rows applied
// to the primary store are asynchronously replicated to an external REST
// store. Secondary failures never fail the primary write.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// SecondaryStore accepts mirrored rows. Upsert merges on the table's
// conflict key; Update patches columns on rows matching the filter.
type SecondaryStore interface {
	Upsert(ctx context.Context, table string, rows any) error
	Update(ctx context.Context, table string, filter map[string]string, patch any) error
}

// RESTConfig configures the PostgREST-style secondary client.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Token   string

	// RequestsPerSecond throttles outbound writes. 0 disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// RESTStore talks to a PostgREST-compatible endpoint:
// POST /rest/v1/{table} with Prefer: resolution=merge-duplicates for
// upserts, PATCH /rest/v1/{table}?col=eq.val for updates.
type RESTStore struct {
	baseURL string
	apiKey  string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewRESTStore(cfg RESTConfig) *RESTStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	return &RESTStore{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (s *RESTStore) Upsert(ctx context.Context, table string, rows any) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, table)
	return s.do(ctx, http.MethodPost, endpoint, rows, "resolution=merge-duplicates")
}

func (s *RESTStore) Update(ctx context.Context, table string, filter map[string]string, patch any) error {
	values := url.Values{}
	for col, v := range filter {
		values.Set(col, "eq."+v)
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, table, values.Encode())
	return s.do(ctx, http.MethodPatch, endpoint, patch, "")
}

func (s *RESTStore) do(ctx context.Context, method, endpoint string, payload any, prefer string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("secondary store %s %s: status %d: %s", method, endpoint, resp.StatusCode, detail)
	}
	return nil
}
