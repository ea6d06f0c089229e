package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.RetryDelay < 0 {
		return fmt.Errorf("engine.retry_delay must be >= 0")
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	for code, site := range cfg.Sites {
		if site.MaxStubs < 0 {
			return fmt.Errorf("sites.%s.max_stubs must be >= 0, got %d", code, site.MaxStubs)
		}
		if site.Concurrency < 0 || site.Concurrency > 50 {
			return fmt.Errorf("sites.%s.concurrency must be 0-50, got %d", code, site.Concurrency)
		}
		if site.ChunkDelay < 0 {
			return fmt.Errorf("sites.%s.chunk_delay must be >= 0", code)
		}
		if site.Fetcher != "" && site.Fetcher != "http" && site.Fetcher != "browser" {
			return fmt.Errorf("sites.%s.fetcher must be 'http' or 'browser', got %q", code, site.Fetcher)
		}
		if site.ListingURL != "" {
			if err := ValidateURL(site.ListingURL); err != nil {
				return fmt.Errorf("sites.%s.listing_url: %w", code, err)
			}
		}
	}

	if cfg.Pipeline.MaxFieldLength < 0 {
		return fmt.Errorf("pipeline.max_field_length must be >= 0, got %d", cfg.Pipeline.MaxFieldLength)
	}

	validStorageTypes := map[string]bool{
		"json": true, "tsv": true, "mongo": true, "postgres": true,
	}
	for _, t := range strings.Split(cfg.Storage.Type, ",") {
		t = strings.TrimSpace(t)
		if !validStorageTypes[t] {
			return fmt.Errorf("storage.type %q is not supported (valid: json, tsv, mongo, postgres)", t)
		}
		if t == "mongo" && cfg.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for storage type mongo")
		}
		if t == "postgres" && cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for storage type postgres")
		}
	}

	switch cfg.Cache.Source {
	case "storage":
	case "sheets":
		if cfg.Cache.SpreadsheetID == "" {
			return fmt.Errorf("cache.spreadsheet_id is required for cache source sheets")
		}
	default:
		return fmt.Errorf("cache.source must be 'storage' or 'sheets', got %q", cfg.Cache.Source)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if cfg.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be >= 1, got %d", cfg.Cache.Size)
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is a valid page address.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
