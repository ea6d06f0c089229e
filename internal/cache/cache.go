// Package cache serves stored book records to the API through a
// read-through, time-limited memory cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/storage"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Cache is what the API reads book lists from.
type Cache interface {
	// Books returns the cached list for site. Failures are logged and
	// yield an empty, non-nil list.
	Books(ctx context.Context, site string) []types.BookRecord

	// Exists reports whether site has a cached or loadable list.
	Exists(ctx context.Context, site string) bool
}

// ReadThrough caches the lists of a storage.Loader in an expirable LRU.
// Concurrent misses for the same site share one load.
type ReadThrough struct {
	lru         *expirable.LRU[string, []types.BookRecord]
	source      storage.Loader
	group       singleflight.Group
	loadTimeout time.Duration
	logger      *slog.Logger
}

// DefaultLoadTimeout bounds one load from the source.
const DefaultLoadTimeout = 30 * time.Second

// NewReadThrough creates a cache over source holding up to size sites for ttl.
func NewReadThrough(source storage.Loader, size int, ttl time.Duration, logger *slog.Logger) *ReadThrough {
	if size <= 0 {
		size = 64
	}
	return &ReadThrough{
		lru:         expirable.NewLRU[string, []types.BookRecord](size, nil, ttl),
		source:      source,
		loadTimeout: DefaultLoadTimeout,
		logger:      logger.With("component", "cache"),
	}
}

func (c *ReadThrough) Books(ctx context.Context, site string) []types.BookRecord {
	records, err := c.load(ctx, site)
	if err != nil {
		if errors.Is(err, types.ErrNoData) {
			c.logger.Debug("no stored books", "site", site)
		} else {
			c.logger.Error("cache read failed", "site", site, "error", err)
		}
		return []types.BookRecord{}
	}
	return records
}

func (c *ReadThrough) Exists(ctx context.Context, site string) bool {
	records, err := c.load(ctx, site)
	return err == nil && len(records) > 0
}

// Put stores a freshly scraped list, replacing any cached one.
func (c *ReadThrough) Put(site string, records []types.BookRecord) {
	c.lru.Add(site, records)
}

// Invalidate drops site so the next read goes to the source.
func (c *ReadThrough) Invalidate(site string) {
	c.lru.Remove(site)
}

func (c *ReadThrough) load(ctx context.Context, site string) ([]types.BookRecord, error) {
	if records, ok := c.lru.Get(site); ok {
		return records, nil
	}

	// The shared load outlives any single caller; each caller only waits
	// as long as its own ctx allows.
	ch := c.group.DoChan(site, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		records, err := c.source.Load(loadCtx, site)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []types.BookRecord{}
		}
		c.lru.Add(site, records)
		c.logger.Debug("cache filled", "site", site, "books", len(records))
		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.BookRecord), nil
	}
}

// NewSource picks the loader behind the cache: the configured storage, or
// the published spreadsheet when cfg.Source is "sheets".
func NewSource(cfg config.CacheConfig, store storage.Loader, logger *slog.Logger) (storage.Loader, error) {
	switch cfg.Source {
	case "", "storage":
		if store == nil {
			return nil, fmt.Errorf("cache source storage: no storage backend")
		}
		return store, nil
	case "sheets":
		return NewSheetsSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache source %q", cfg.Source)
	}
}
