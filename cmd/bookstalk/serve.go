package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/bookstalk/internal/api"
	"github.com/IshaanNene/bookstalk/internal/cache"
	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/storage"
)

var (
	servePort    int
	liveFallback bool
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored book lists and live detail pages over HTTP",
		Long: `Start the book API. Lists come from the configured cache source (stored
records or a published spreadsheet) and are kept in memory for the cache
TTL. Detail pages are scraped on request.`,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (0 = config api.port)")
	cmd.Flags().BoolVar(&liveFallback, "live-fallback", false, "scrape a site live when no stored list exists")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(cfg *config.Config) {
		if servePort > 0 {
			cfg.API.Port = servePort
		}
		if liveFallback {
			cfg.API.LiveFallback = true
		}
	})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	source, err := cache.NewSource(cfg.Cache, store, logger)
	if err != nil {
		return fmt.Errorf("create cache source: %w", err)
	}
	books := cache.NewReadThrough(source, cfg.Cache.Size, cfg.Cache.TTL, logger)

	eng, err := newEngine(cfg, logger, registry.List(), true)
	if err != nil {
		return err
	}
	defer eng.Close()

	metrics := observability.NewMetrics(logger)
	eng.SetMetrics(metrics)

	server := api.NewServer(cfg.API.Port, registry, books, logger)
	server.SetScraper(eng, cfg.API.LiveFallback)
	if cfg.Metrics.Enabled {
		server.SetMetrics(metrics)
	}

	return server.ListenAndServe(ctx)
}

// detailCmd creates the "detail" subcommand.
func detailCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "detail <site> <url>",
		Short:   "Scrape one book detail page and print it as JSON",
		Example: `  bookstalk detail kr https://product.kyobobook.co.kr/detail/S000213917290`,
		Args:    cobra.ExactArgs(2),
		RunE:    runDetail,
	}
}

func runDetail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	if err := config.ValidateURL(args[1]); err != nil {
		return fmt.Errorf("invalid URL %q: %w", args[1], err)
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	site, err := registry.Lookup(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, logger, []*sites.Site{site}, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	detail, err := eng.FetchDetailStrict(ctx, site, args[1])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(detail)
}
