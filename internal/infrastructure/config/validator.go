package configinfra

import (
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// Validate checks that the configuration is usable. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if c.Plugins.BaseURL == "" && c.Plugins.Dir == "" {
		add(fmt.Errorf("plugins.baseUrl or plugins.dir is required"))
	}
	if c.Plugins.BaseURL != "" {
		add(prefixed("plugins.baseUrl", validateHTTPURL(c.Plugins.BaseURL)))
	}
	if c.Plugins.Timeout < 0 {
		add(fmt.Errorf("plugins.timeout cannot be negative"))
	}
	if c.Plugins.CacheSize < 0 {
		add(fmt.Errorf("plugins.cacheSize cannot be negative"))
	}

	switch {
	case c.Catalog.Path == "" && c.Catalog.URL == "":
		add(fmt.Errorf("catalog.path or catalog.url is required"))
	case c.Catalog.URL != "":
		add(prefixed("catalog.url", validateHTTPURL(c.Catalog.URL)))
		if c.Catalog.Watch {
			add(fmt.Errorf("catalog.watch requires catalog.path"))
		}
	}

	if c.Loader.MaxConcurrency < 0 {
		add(fmt.Errorf("loader.maxConcurrency cannot be negative"))
	}
	if _, err := domain.ParseFailurePolicy(c.Loader.PreloadPolicy); err != nil {
		add(prefixed("loader.preloadPolicy", err))
	}
	if _, err := domain.ParseFailurePolicy(c.Loader.TransformerPolicy); err != nil {
		add(prefixed("loader.transformerPolicy", err))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add(fmt.Errorf("log.level must be one of debug, info, warn, error: %q", c.Log.Level))
	}

	return result.ErrorOrNil()
}

// validateHTTPURL validates a plugin server or catalog URL
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include host")
	}
	return nil
}

func prefixed(field string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", field, err)
}
