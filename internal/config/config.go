package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for BookStalk.
type Config struct {
	Engine   EngineConfig            `mapstructure:"engine"   yaml:"engine"`
	Browser  BrowserConfig           `mapstructure:"browser"  yaml:"browser"`
	Fetcher  FetcherConfig           `mapstructure:"fetcher"  yaml:"fetcher"`
	Sites    map[string]SiteOverride `mapstructure:"sites"    yaml:"sites"`
	Pipeline PipelineConfig          `mapstructure:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig           `mapstructure:"storage"  yaml:"storage"`
	Cache    CacheConfig             `mapstructure:"cache"    yaml:"cache"`
	API      APIConfig               `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig           `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig           `mapstructure:"metrics"  yaml:"metrics"`
}

// EngineConfig controls the scrape engine.
type EngineConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"     yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"     yaml:"retry_delay"`
	UserAgents     []string      `mapstructure:"user_agents"     yaml:"user_agents"`
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless   bool   `mapstructure:"headless"    yaml:"headless"`
	Stealth    bool   `mapstructure:"stealth"     yaml:"stealth"`
	Bin        string `mapstructure:"bin"         yaml:"bin"`
	NoSandbox  bool   `mapstructure:"no_sandbox"  yaml:"no_sandbox"`
	WindowSize string `mapstructure:"window_size" yaml:"window_size"`
}

// FetcherConfig controls the plain HTTP fetcher.
type FetcherConfig struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
}

// SiteOverride adjusts a built-in site. Zero values keep the built-in setting.
type SiteOverride struct {
	Disabled    bool          `mapstructure:"disabled"    yaml:"disabled"`
	MaxStubs    int           `mapstructure:"max_stubs"   yaml:"max_stubs"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	ChunkDelay  time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"`
	ListingURL  string        `mapstructure:"listing_url" yaml:"listing_url"`
	Fetcher     string        `mapstructure:"fetcher"     yaml:"fetcher"`
	Stealth     *bool         `mapstructure:"stealth"     yaml:"stealth"`
}

// PipelineConfig controls record processing.
type PipelineConfig struct {
	MaxFieldLength int `mapstructure:"max_field_length" yaml:"max_field_length"`
}

// StorageConfig controls output/storage. Type is a comma-separated list of
// backends: json, tsv, mongo, postgres.
type StorageConfig struct {
	Type            string `mapstructure:"type"             yaml:"type"`
	OutputPath      string `mapstructure:"output_path"      yaml:"output_path"`
	MongoURI        string `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	PostgresDSN     string `mapstructure:"postgres_dsn"     yaml:"postgres_dsn"`
}

// CacheConfig controls the read-through book cache used by the API.
type CacheConfig struct {
	Source        string            `mapstructure:"source"         yaml:"source"` // storage, sheets
	TTL           time.Duration     `mapstructure:"ttl"            yaml:"ttl"`
	Size          int               `mapstructure:"size"           yaml:"size"`
	SpreadsheetID string            `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`
	SheetGIDs     map[string]string `mapstructure:"sheet_gids"     yaml:"sheet_gids"`
	SheetRange    string            `mapstructure:"sheet_range"    yaml:"sheet_range"`
	Timeout       time.Duration     `mapstructure:"timeout"        yaml:"timeout"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Port         int  `mapstructure:"port"          yaml:"port"`
	LiveFallback bool `mapstructure:"live_fallback" yaml:"live_fallback"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			RequestTimeout: 60 * time.Second,
			MaxRetries:     2,
			RetryDelay:     2 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Browser: BrowserConfig{
			Headless:   true,
			NoSandbox:  true,
			WindowSize: "1920,1080",
		},
		Fetcher: FetcherConfig{
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Sites: map[string]SiteOverride{},
		Pipeline: PipelineConfig{
			MaxFieldLength: 50000,
		},
		Storage: StorageConfig{
			Type:            "json",
			OutputPath:      "./output",
			MongoDatabase:   "bookstalk",
			MongoCollection: "books",
		},
		Cache: CacheConfig{
			Source:     "storage",
			TTL:        24 * time.Hour,
			Size:       64,
			SheetRange: "B3:M102",
			SheetGIDs:  map[string]string{},
			Timeout:    15 * time.Second,
		},
		API: APIConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
