package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/engine"
	"github.com/IshaanNene/bookstalk/internal/fetcher"
	"github.com/IshaanNene/bookstalk/internal/sites"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bookstalk",
		Short: "BookStalk: bestseller scraper and book API",
		Long: `BookStalk collects bestseller lists from online bookstores in several
countries, enriches every book with its detail page and serves the
results over a small JSON API.

Sources: kyobo (kr), aladin, amazon (us, fr, es), kinokuniya (jp),
books.com.tw (tw), bookschina (cn) and waterstones (uk).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(detailCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sitesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration, applying overrides between
// the two steps.
func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadRegistry returns the built-in sites with configured overrides applied.
func loadRegistry(cfg *config.Config) (*sites.Registry, error) {
	registry := sites.Builtin()
	if err := registry.Apply(cfg.Sites); err != nil {
		return nil, fmt.Errorf("site overrides: %w", err)
	}
	return registry, nil
}

// newEngine builds an engine with an HTTP fetcher and, when any of the given
// sites needs one, a browser fetcher. With optionalBrowser a browser that
// fails to start is logged and skipped.
func newEngine(cfg *config.Config, logger *slog.Logger, selected []*sites.Site, optionalBrowser bool) (*engine.Engine, error) {
	eng := engine.New(cfg, logger)

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create http fetcher: %w", err)
	}
	eng.SetFetcher(sites.FetcherHTTP, httpFetcher)

	needsBrowser := slices.ContainsFunc(selected, func(s *sites.Site) bool {
		return s.Fetcher == sites.FetcherBrowser
	})
	if !needsBrowser {
		return eng, nil
	}

	browserFetcher, err := fetcher.NewBrowserFetcher(cfg, logger)
	switch {
	case err == nil:
		eng.SetFetcher(sites.FetcherBrowser, browserFetcher)
	case optionalBrowser:
		logger.Warn("browser unavailable, browser sites will fail", "error", err)
	default:
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}

// sitesCmd creates the "sites" subcommand.
func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List supported bestseller sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			for _, s := range registry.List() {
				aliases := ""
				if len(s.Aliases) > 0 {
					aliases = " (" + strings.Join(s.Aliases, ", ") + ")"
				}
				fmt.Printf("%-4s %-16s %-8s max %-3d %s%s\n", s.Code, s.Name, s.Fetcher, s.MaxStubs, s.Origin, aliases)
			}
			return nil
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			case "yaml", "":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml, json")
	return cmd
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("BookStalk %s\n", config.Version)
		},
	}
}

// setupLogger creates a structured logger on stderr.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
