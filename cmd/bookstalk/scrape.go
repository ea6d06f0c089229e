package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/storage"
)

var (
	scrapeAll      bool
	outputPath     string
	outputType     string
	concurrent     int
	maxStubs       int
	chunkDelay     string
	headful        bool
	scrapeSiteArgs []string
)

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [site...]",
		Short: "Scrape bestseller lists and store the records",
		Long: `Scrape the bestseller list of each given site, fetch every book's detail
page and store the resulting records. Sites run one after another and
share one browser. A site that fails is reported and the command exits
non-zero once the remaining sites are done.`,
		Example: `  bookstalk scrape kr jp
  bookstalk scrape --all -f json,tsv -o ./data
  bookstalk scrape uk --max-stubs 5 --headful`,
		RunE: runScrape,
	}

	cmd.Flags().BoolVar(&scrapeAll, "all", false, "scrape every enabled site")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output directory")
	cmd.Flags().StringVarP(&outputType, "format", "f", "", "comma-separated storage backends: json, tsv, mongo, postgres")
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "detail pages fetched at once per site (0 = site default)")
	cmd.Flags().IntVar(&maxStubs, "max-stubs", 0, "books taken from each listing (0 = site default)")
	cmd.Flags().StringVar(&chunkDelay, "delay", "", "pause between detail chunks, e.g. 500ms")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	if !scrapeAll && len(args) == 0 {
		return errors.New("name at least one site or pass --all")
	}
	scrapeSiteArgs = args
	if _, err := parseDelayFlag(); err != nil {
		return err
	}

	cfg, err := loadConfig(applyCLIOverrides)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	selected, err := selectSites(registry, args, scrapeAll)
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

	eng, err := newEngine(cfg, logger, selected, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
		eng.SetMetrics(metrics)
	}

	start := time.Now()
	var failed []string
	for _, site := range selected {
		if ctx.Err() != nil {
			failed = append(failed, site.Code)
			continue
		}

		records, err := eng.Run(ctx, site)
		if err != nil {
			logger.Error("site failed", "site", site.Code, "error", err)
			fmt.Printf("❌ %-4s %v\n", site.Code, err)
			failed = append(failed, site.Code)
			continue
		}
		if err := store.Store(ctx, site.Code, records); err != nil {
			logger.Error("store failed", "site", site.Code, "backend", store.Name(), "error", err)
			fmt.Printf("❌ %-4s store: %v\n", site.Code, err)
			failed = append(failed, site.Code)
			continue
		}
		fmt.Printf("✅ %-4s %d books\n", site.Code, len(records))
	}

	stats := eng.Stats().Snapshot()
	logger.Info("scrape complete",
		"elapsed", time.Since(start),
		"sites", len(selected),
		"failed", len(failed),
		"records", stats["records"],
		"detail_failures", stats["detail_failures"],
	)

	fmt.Printf("\nScraped %d of %d sites in %s\n", len(selected)-len(failed), len(selected), time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Output:    %s (%s)\n", cfg.Storage.OutputPath, cfg.Storage.Type)

	if len(failed) > 0 {
		return fmt.Errorf("%d site(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// selectSites resolves site arguments to registry sites, dropping repeats.
func selectSites(registry *sites.Registry, args []string, all bool) ([]*sites.Site, error) {
	if all {
		return registry.List(), nil
	}
	seen := make(map[string]bool, len(args))
	var out []*sites.Site
	for _, arg := range args {
		s, err := registry.Lookup(arg)
		if err != nil {
			return nil, err
		}
		if seen[s.Code] {
			continue
		}
		seen[s.Code] = true
		out = append(out, s)
	}
	return out, nil
}

// applyCLIOverrides applies command-line flag values to the config. Per-site
// flags become overrides for every named site, or every site with --all.
func applyCLIOverrides(cfg *config.Config) {
	if outputPath != "" {
		cfg.Storage.OutputPath = outputPath
	}
	if outputType != "" {
		cfg.Storage.Type = strings.ToLower(outputType)
	}
	if headful {
		cfg.Browser.Headless = false
	}

	d, _ := parseDelayFlag()
	if concurrent <= 0 && maxStubs <= 0 && d <= 0 {
		return
	}

	codes := scrapeSiteArgs
	if scrapeAll {
		codes = nil
		for _, s := range sites.Builtin().List() {
			codes = append(codes, s.Code)
		}
	}
	if cfg.Sites == nil {
		cfg.Sites = map[string]config.SiteOverride{}
	}
	for _, code := range codes {
		code = strings.ToLower(code)
		o := cfg.Sites[code]
		if concurrent > 0 {
			o.Concurrency = concurrent
		}
		if maxStubs > 0 {
			o.MaxStubs = maxStubs
		}
		if d > 0 {
			o.ChunkDelay = d
		}
		cfg.Sites[code] = o
	}
}

// parseDelayFlag parses --delay. An empty flag is zero.
func parseDelayFlag() (time.Duration, error) {
	if chunkDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(chunkDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid --delay %q: %w", chunkDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid --delay %q: must not be negative", chunkDelay)
	}
	return d, nil
}
