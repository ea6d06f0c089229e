package main

import (
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/sites"
)

func resetFlags() {
	scrapeAll, outputPath, outputType = false, "", ""
	concurrent, maxStubs, chunkDelay, headful = 0, 0, "", false
	scrapeSiteArgs = nil
}

func TestSelectSites(t *testing.T) {
	registry := sites.Builtin()

	got, err := selectSites(registry, []string{"kr", "ch", "cn", "KR"}, false)
	if err != nil {
		t.Fatalf("selectSites: %v", err)
	}
	if len(got) != 2 || got[0].Code != "kr" || got[1].Code != "cn" {
		t.Fatalf("expected [kr cn], got %v", codesOf(got))
	}

	if _, err := selectSites(registry, []string{"zz"}, false); err == nil {
		t.Error("expected error for unknown site")
	}

	all, err := selectSites(registry, nil, true)
	if err != nil || len(all) != len(registry.List()) {
		t.Errorf("--all should select every site, got %d (%v)", len(all), err)
	}
}

func TestApplyCLIOverrides(t *testing.T) {
	defer resetFlags()
	resetFlags()
	scrapeSiteArgs = []string{"uk"}
	outputPath = "/tmp/books"
	outputType = "JSON,TSV"
	maxStubs = 5
	chunkDelay = "250ms"
	headful = true

	cfg := config.DefaultConfig()
	applyCLIOverrides(cfg)

	if cfg.Storage.OutputPath != "/tmp/books" || cfg.Storage.Type != "json,tsv" {
		t.Errorf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Browser.Headless {
		t.Error("--headful should disable headless")
	}
	o := cfg.Sites["uk"]
	if o.MaxStubs != 5 || o.ChunkDelay != 250*time.Millisecond || o.Concurrency != 0 {
		t.Errorf("unexpected site override: %+v", o)
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		t.Fatalf("loadRegistry: %v", err)
	}
	uk, _ := registry.Lookup("uk")
	if uk.MaxStubs != 5 {
		t.Errorf("expected uk max stubs 5, got %d", uk.MaxStubs)
	}
}

func TestApplyCLIOverridesAll(t *testing.T) {
	defer resetFlags()
	resetFlags()
	scrapeAll = true
	concurrent = 2

	cfg := config.DefaultConfig()
	applyCLIOverrides(cfg)

	if len(cfg.Sites) != len(sites.Builtin().List()) {
		t.Fatalf("expected an override per site, got %d", len(cfg.Sites))
	}
	for code, o := range cfg.Sites {
		if o.Concurrency != 2 {
			t.Errorf("site %s: expected concurrency 2, got %d", code, o.Concurrency)
		}
	}
}

func TestRunScrapeRejectsBadDelay(t *testing.T) {
	defer resetFlags()

	for _, bad := range []string{"5x", "-1s"} {
		resetFlags()
		chunkDelay = bad
		err := runScrape(nil, []string{"kr"})
		if err == nil || !strings.Contains(err.Error(), "--delay") {
			t.Errorf("delay %q: expected a --delay error, got %v", bad, err)
		}
	}
}

func codesOf(list []*sites.Site) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Code
	}
	return out
}
