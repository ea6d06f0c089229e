// Package engine runs the per-site scraping pipeline: listing stubs, detail
// pages fetched in bounded chunks, and normalization into public records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/fetcher"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/pipeline"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Stats tracks scrape statistics across runs.
type Stats struct {
	ListingPages   atomic.Int64
	DetailPages    atomic.Int64
	DetailFailures atomic.Int64
	StubsAccepted  atomic.Int64
	StubsDropped   atomic.Int64
	Records        atomic.Int64
	ActivePages    atomic.Int32
	StartTime      time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"listing_pages":   s.ListingPages.Load(),
		"detail_pages":    s.DetailPages.Load(),
		"detail_failures": s.DetailFailures.Load(),
		"stubs_accepted":  s.StubsAccepted.Load(),
		"stubs_dropped":   s.StubsDropped.Load(),
		"records":         s.Records.Load(),
		"active_pages":    s.ActivePages.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}

// Fetcher is the interface for all fetcher implementations.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
	Close() error
}

// Engine runs sites. It is safe for concurrent use; one engine normally
// serves every site of a process so they share one browser.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	extractor *parser.Extractor
	fetchers  map[string]Fetcher
	metrics   *observability.Metrics
	stats     *Stats
	mu        sync.RWMutex
}

// New creates a new Engine with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		extractor: parser.NewExtractor(logger),
		fetchers:  make(map[string]Fetcher),
		stats:     &Stats{StartTime: time.Now()},
	}
}

// SetFetcher registers a fetcher for a given type.
func (e *Engine) SetFetcher(fetcherType string, f Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchers[fetcherType] = f
}

// SetMetrics attaches Prometheus collectors. A nil metrics disables them.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Stats returns the engine's statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Close closes every registered fetcher.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for kind, f := range e.fetchers {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s fetcher: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) fetcherFor(site *sites.Site) (Fetcher, error) {
	kind := site.Fetcher
	if kind == "" {
		kind = fetcher.TypeBrowser
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s needs the %s fetcher", types.ErrNoFetcher, site.Code, kind)
	}
	return f, nil
}

func (e *Engine) metricsRef() *observability.Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

func (e *Engine) newRequest(site *sites.Site, rawURL, tag string, settle types.Settle) (*types.Request, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	req.Tag = tag
	req.Site = site.Code
	req.Settle = settle
	req.Stealth = site.Stealth
	return req, nil
}

// fetch loads one page, retrying retryable failures up to
// engine.max_retries with a jittered delay. Rate-limit responses wait for
// their Retry-After instead.
func (e *Engine) fetch(ctx context.Context, f Fetcher, req *types.Request) (*types.Response, error) {
	logger := e.logger.With("site", req.Site, "url", req.URLString(), "kind", req.Tag)
	metrics := e.metricsRef()

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Engine.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := fetcher.RandomDelay(e.cfg.Engine.RetryDelay)
			var fe *types.FetchError
			if errors.As(lastErr, &fe) && fe.RetryAfter > 0 {
				delay = fe.RetryAfter
			}
			logger.Warn("retrying fetch", "attempt", attempt, "delay", delay, "error", lastErr)
			if err := fetcher.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		e.stats.ActivePages.Add(1)
		start := time.Now()
		resp, err := f.Fetch(ctx, req)
		e.stats.ActivePages.Add(-1)
		metrics.ObserveFetch(req.Tag, time.Since(start))

		if err == nil {
			metrics.IncPage(req.Site, req.Tag, observability.OutcomeOK)
			return resp, nil
		}
		metrics.IncPage(req.Site, req.Tag, observability.OutcomeError)
		lastErr = err
		if ctx.Err() != nil || !types.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// recordPipeline builds the record-stage pipeline for one run.
func (e *Engine) recordPipeline() *pipeline.Pipeline {
	return pipeline.ForRecords(e.logger, e.cfg.Pipeline.MaxFieldLength)
}
