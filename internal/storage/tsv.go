package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/IshaanNene/bookstalk/internal/types"
)

// WriteTSV writes records as tab-separated rows in the spreadsheet layout:
// image, link, title, author, writerInfo, description, other. Tabs inside
// values are replaced by spaces; newlines are kept and quoted.
func WriteTSV(w io.Writer, records []types.BookRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	for _, r := range records {
		cols := r.Columns()
		for i, c := range cols {
			cols[i] = strings.ReplaceAll(c, "\t", " ")
		}
		if err := cw.Write(cols); err != nil {
			return fmt.Errorf("write TSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTSV parses rows written by WriteTSV or exported from the sheet. Rows
// without a title are skipped; short rows leave trailing fields empty and
// extra columns are ignored. Cells are trimmed.
func ReadTSV(r io.Reader) ([]types.BookRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records := []types.BookRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read TSV row: %w", err)
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rec := types.RecordFromColumns(row)
		if rec.Title == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
