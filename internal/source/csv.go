// Package source loads the daily breakout signals and the intraday leverage
// mapping from CSV objects in the blob store.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// table is a CSV object indexed by header name.
type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(ctx context.Context, blobs domain.BlobReader, key string) (*table, error) {
	rc, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &table{cols: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		// Spreadsheet exports often carry a BOM on the first column.
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		t.cols[h] = i
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.rows)+2, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// field returns the trimmed value of col in row, or "" when absent.
func (t *table) field(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
