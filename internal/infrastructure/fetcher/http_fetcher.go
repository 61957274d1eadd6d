package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// HTTPFetcherConfig configures an HTTPFetcher
type HTTPFetcherConfig struct {
	BaseURL      string
	Timeout      time.Duration
	AllowAngular bool
	UserAgent    string
}

// HTTPFetcher fetches module documents from a plugin server. The version of
// a location is sent as the _cache query parameter so that a new plugin
// version never resolves to a stale copy.
type HTTPFetcher struct {
	baseURL      *url.URL
	client       *http.Client
	allowAngular bool
	userAgent    string
}

// NewHTTPFetcher creates a fetcher for the plugin server at cfg.BaseURL
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid plugin base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid plugin base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "km-pluginhost"
	}

	return &HTTPFetcher{
		baseURL:      base,
		client:       &http.Client{Timeout: timeout},
		allowAngular: cfg.AllowAngular,
		userAgent:    userAgent,
	}, nil
}

// Fetch implements ports.ModuleFetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
	if err := checkAngular(loc, f.allowAngular); err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	data, err := f.download(ctx, loc)
	if err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	if err := verifyIntegrity(data, loc.Integrity); err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}

	module, err := decodeModule(data)
	if err != nil {
		return nil, domain.NewPluginLoadError(loc, err)
	}
	return module, nil
}

// ModuleURL returns the URL a location resolves to
func (f *HTTPFetcher) ModuleURL(loc domain.ModuleLocation) string {
	target := f.baseURL.JoinPath(strings.TrimPrefix(loc.Path, "/"))
	if loc.Version != "" {
		query := target.Query()
		query.Set("_cache", loc.Version)
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func (f *HTTPFetcher) download(ctx context.Context, loc domain.ModuleLocation) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ModuleURL(loc), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("X-Plugin-Id", loc.PluginID)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrModuleNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("plugin server error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	if len(data) > maxModuleSize {
		return nil, fmt.Errorf("%w: module exceeds %d bytes", domain.ErrInvalidModule, maxModuleSize)
	}
	return data, nil
}
