// Package ingest reads raw transaction tables.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReadCSV reads a header row followed by data rows.
// Short rows are padded with empty cells; long rows are truncated to the header width.
func ReadCSV(r io.Reader) (*domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: input is empty", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", domain.ErrValidation, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &domain.Table{Columns: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrValidation, line, err)
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		row := make([]string, len(header))
		copy(row, rec)
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
