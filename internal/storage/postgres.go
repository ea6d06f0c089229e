package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IshaanNene/bookstalk/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS book_records (
	site         TEXT        NOT NULL,
	rank         INTEGER     NOT NULL,
	image        TEXT        NOT NULL DEFAULT '',
	link         TEXT        NOT NULL DEFAULT '',
	title        TEXT        NOT NULL DEFAULT '',
	author       TEXT        NOT NULL DEFAULT '',
	writer_info  TEXT        NOT NULL DEFAULT '',
	description  TEXT        NOT NULL DEFAULT '',
	other        TEXT        NOT NULL DEFAULT '',
	scraped_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (site, rank)
)`

var postgresColumns = []string{
	"site", "rank", "image", "link", "title", "author",
	"writer_info", "description", "other", "scraped_at",
}

// PostgresStorage keeps records in the book_records table. Each store
// replaces a site's rows inside one transaction.
type PostgresStorage struct {
	db      *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgresStorage connects to dsn and ensures the table exists.
func NewPostgresStorage(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	return &PostgresStorage{
		db:      pool,
		timeout: 30 * time.Second,
		logger:  logger.With("component", "postgres_storage"),
	}, nil
}

func (s *PostgresStorage) Name() string { return "postgres" }

func (s *PostgresStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStorage) Store(ctx context.Context, site string, records []types.BookRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM book_records WHERE site = $1`, site); err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("delete: %w", err)}
	}

	now := time.Now()
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{site, i + 1, r.Image, r.Link, r.Title, r.Author, r.WriterInfo, r.Description, r.Other, now}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"book_records"}, postgresColumns, pgx.CopyFromRows(rows)); err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("copy: %w", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("commit: %w", err)}
	}

	s.logger.Debug("records stored in postgres", "site", site, "count", len(records))
	return nil
}

func (s *PostgresStorage) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT image, link, title, author, writer_info, description, other
		FROM book_records
		WHERE site = $1
		ORDER BY rank`, site)
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("query: %w", err)}
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.BookRecord, error) {
		var r types.BookRecord
		err := row.Scan(&r.Image, &r.Link, &r.Title, &r.Author, &r.WriterInfo, &r.Description, &r.Other)
		return r, err
	})
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("scan: %w", err)}
	}
	if len(records) == 0 {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: types.ErrNoData}
	}
	return records, nil
}

func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}
