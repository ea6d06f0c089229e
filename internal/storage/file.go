package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/bookstalk/internal/types"
)

// --- JSON Storage ---

// JSONStorage writes one JSON array of records per site to <dir>/<site>.json.
type JSONStorage struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewJSONStorage creates a JSON file storage rooted at dir.
func NewJSONStorage(dir string, logger *slog.Logger) (*JSONStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONStorage{
		dir:    dir,
		logger: logger.With("component", "json_storage"),
	}, nil
}

func (s *JSONStorage) Name() string { return "json" }

// Path returns the file holding site's records.
func (s *JSONStorage) Path(site string) string {
	return filepath.Join(s.dir, site+".json")
}

func (s *JSONStorage) Store(ctx context.Context, site string, records []types.BookRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []types.BookRecord{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := writeAtomic(s.Path(site), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: err}
	}

	s.logger.Info("JSON written", "path", s.Path(site), "records", len(records))
	return nil
}

func (s *JSONStorage) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(site))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: types.ErrNoData}
	}
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: err}
	}

	var records []types.BookRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("decode JSON: %w", err)}
	}
	return records, nil
}

func (s *JSONStorage) Close() error { return nil }

// --- TSV Storage ---

// TSVStorage writes one tab-separated file per site in the spreadsheet
// column layout of WriteTSV.
type TSVStorage struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewTSVStorage creates a TSV file storage rooted at dir.
func NewTSVStorage(dir string, logger *slog.Logger) (*TSVStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &TSVStorage{
		dir:    dir,
		logger: logger.With("component", "tsv_storage"),
	}, nil
}

func (s *TSVStorage) Name() string { return "tsv" }

// Path returns the file holding site's records.
func (s *TSVStorage) Path(site string) string {
	return filepath.Join(s.dir, site+".tsv")
}

func (s *TSVStorage) Store(ctx context.Context, site string, records []types.BookRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := writeAtomic(s.Path(site), func(w io.Writer) error {
		return WriteTSV(w, records)
	})
	if err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: err}
	}

	s.logger.Info("TSV written", "path", s.Path(site), "records", len(records))
	return nil
}

func (s *TSVStorage) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(site))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: types.ErrNoData}
	}
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: err}
	}
	defer f.Close()

	records, err := ReadTSV(f)
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: err}
	}
	return records, nil
}

func (s *TSVStorage) Close() error { return nil }

// writeAtomic writes through a temp file in the target directory and
// renames it over path, so readers never see a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output file: %w", err)
	}
	return nil
}
