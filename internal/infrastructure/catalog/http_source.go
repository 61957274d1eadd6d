package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// HTTPSourceConfig configures an HTTPSource
type HTTPSourceConfig struct {
	URL             string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// HTTPSource fetches the catalog as a JSON document. Transient failures of
// the catalog request are retried with exponential backoff; client errors are
// not.
type HTTPSource struct {
	cfg    HTTPSourceConfig
	client *http.Client
}

// NewHTTPSource creates an HTTP catalog source
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("catalog URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name implements ports.CatalogSource
func (s *HTTPSource) Name() string {
	return "http:" + s.cfg.URL
}

// Load implements ports.CatalogSource
func (s *HTTPSource) Load(ctx context.Context) (*domain.Catalog, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialInterval

	var data []byte
	operation := func() error {
		body, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		data = body
		return nil
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, retry); err != nil {
		return nil, fmt.Errorf("failed to fetch catalog from %s: %w", s.cfg.URL, err)
	}

	return Decode(data, FormatJSON)
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("catalog server returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return body, nil
}
