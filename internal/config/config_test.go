package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero timeout", func(c *Config) { c.Engine.RequestTimeout = 0 }, "engine.request_timeout"},
		{"negative retries", func(c *Config) { c.Engine.MaxRetries = -1 }, "engine.max_retries"},
		{"bad storage", func(c *Config) { c.Storage.Type = "json,xml" }, `"xml"`},
		{"mongo without uri", func(c *Config) { c.Storage.Type = "json, mongo" }, "storage.mongo_uri"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, "storage.postgres_dsn"},
		{"bad cache source", func(c *Config) { c.Cache.Source = "redis" }, "cache.source"},
		{"sheets without id", func(c *Config) { c.Cache.Source = "sheets" }, "cache.spreadsheet_id"},
		{"bad site fetcher", func(c *Config) {
			c.Sites["kr"] = SiteOverride{Fetcher: "curl"}
		}, "sites.kr.fetcher"},
		{"bad site listing", func(c *Config) {
			c.Sites["uk"] = SiteOverride{ListingURL: "ftp://example.com"}
		}, "sites.uk.listing_url"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookstalk.yaml")
	yaml := `
engine:
  max_retries: 4
sites:
  kr:
    max_stubs: 5
    stealth: true
cache:
  sheet_gids:
    kr: "12345"
api:
  port: 9000
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOOKSTALK_API_LIVE_FALLBACK", "true")
	t.Setenv("BOOKSTALK_CACHE_TTL", "2h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Engine.MaxRetries != 4 {
		t.Errorf("expected max_retries 4, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.API.Port)
	}
	if !cfg.API.LiveFallback {
		t.Error("expected live fallback from env")
	}
	if cfg.Cache.TTL != 2*time.Hour {
		t.Errorf("expected ttl 2h, got %v", cfg.Cache.TTL)
	}
	kr := cfg.Sites["kr"]
	if kr.MaxStubs != 5 || kr.Stealth == nil || !*kr.Stealth {
		t.Errorf("unexpected kr override: %+v", kr)
	}
	if cfg.Cache.SheetGIDs["kr"] != "12345" {
		t.Errorf("expected kr gid, got %v", cfg.Cache.SheetGIDs)
	}
	if cfg.Engine.RequestTimeout != DefaultConfig().Engine.RequestTimeout {
		t.Errorf("default request timeout lost: %v", cfg.Engine.RequestTimeout)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateURL(t *testing.T) {
	for _, u := range []string{"https://example.com/a", "http://example.com"} {
		if err := ValidateURL(u); err != nil {
			t.Errorf("%s should be valid: %v", u, err)
		}
	}
	for _, u := range []string{"example.com", "javascript:void(0)", "https://"} {
		if err := ValidateURL(u); err == nil {
			t.Errorf("%s should be invalid", u)
		}
	}
}
