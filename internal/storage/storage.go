// Package storage persists the normalized book records of each site. Every
// backend replaces a site's records as a whole: a run's output is the
// site's current bestseller list, not an append log.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Storage is the interface for all storage backends.
type Storage interface {
	// Store replaces the records held for site.
	Store(ctx context.Context, site string, records []types.BookRecord) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// Loader reads back the records last stored for a site. A site with no
// stored records yields an error wrapping types.ErrNoData.
type Loader interface {
	Load(ctx context.Context, site string) ([]types.BookRecord, error)
}

// Backend is a storage that can also read its records back.
type Backend interface {
	Storage
	Loader
}

// New builds the backends named in cfg.Type. Several backends fan out
// through a MultiStorage, which loads from the first backend holding data.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	var backends []Backend
	for _, name := range strings.Split(cfg.Type, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		backend, err := newBackend(ctx, name, cfg, logger)
		if err != nil {
			for _, b := range backends {
				_ = b.Close()
			}
			return nil, err
		}
		backends = append(backends, backend)
	}

	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no storage backend configured")
	case 1:
		return backends[0], nil
	default:
		return NewMultiStorage(backends, logger), nil
	}
}

func newBackend(ctx context.Context, name string, cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch name {
	case "json":
		return NewJSONStorage(cfg.OutputPath, logger)
	case "tsv":
		return NewTSVStorage(cfg.OutputPath, logger)
	case "mongo":
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
	case "postgres":
		return NewPostgresStorage(ctx, cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", name)
	}
}
