package cache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/storage"
	"github.com/IshaanNene/bookstalk/internal/types"
)

const sheetsExportURL = "https://docs.google.com/spreadsheets/d/{id}/export"

// SheetsSource loads book lists from the TSV export of a published
// spreadsheet, one tab (gid) per site.
type SheetsSource struct {
	client        *resty.Client
	spreadsheetID string
	gids          map[string]string
	sheetRange    string
	logger        *slog.Logger
}

// NewSheetsSource creates a source for cfg.SpreadsheetID.
func NewSheetsSource(cfg config.CacheConfig, logger *slog.Logger) *SheetsSource {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &SheetsSource{
		client:        client,
		spreadsheetID: cfg.SpreadsheetID,
		gids:          cfg.SheetGIDs,
		sheetRange:    cfg.SheetRange,
		logger:        logger.With("component", "sheets_source"),
	}
}

// Client exposes the underlying HTTP client.
func (s *SheetsSource) Client() *resty.Client { return s.client }

// Load fetches and parses the tab mapped to site.
func (s *SheetsSource) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	gid, ok := s.gids[site]
	if !ok {
		return nil, &types.StorageError{Backend: "sheets", Site: site, Err: fmt.Errorf("%w: no sheet gid", types.ErrUnknownSite)}
	}

	query := map[string]string{"format": "tsv", "gid": gid}
	if s.sheetRange != "" {
		query["range"] = s.sheetRange
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", s.spreadsheetID).
		SetQueryParams(query).
		Get(sheetsExportURL)
	if err != nil {
		return nil, &types.StorageError{Backend: "sheets", Site: site, Err: err}
	}
	if res.IsError() {
		return nil, &types.StorageError{Backend: "sheets", Site: site, Err: fmt.Errorf("HTTP %d", res.StatusCode())}
	}

	records, err := storage.ReadTSV(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, &types.StorageError{Backend: "sheets", Site: site, Err: err}
	}

	s.logger.Debug("sheet loaded", "site", site, "books", len(records), "duration", res.Time())
	return records, nil
}
