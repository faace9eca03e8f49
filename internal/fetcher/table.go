package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a fully materialized tabular extract: one header row plus data rows.
type Table struct {
	Source string
	Header []string
	Rows   [][]string

	index map[string]int
}

// TableOptions configures ReadTable.
type TableOptions struct {
	Encoding  string // CSV only
	SheetName string // XLSX only
}

// ReadTable loads a CSV, TSV or XLSX file, chosen by extension. Cells are
// whitespace-trimmed. The first row is the header.
func ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error) {
	var (
		records [][]string
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = ReadXLSX(path, XLSXOptions{SheetName: opts.SheetName})
		if err != nil {
			return nil, err
		}
		for _, row := range records {
			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
		}
	case ".tsv", ".tab":
		records, err = readDelimited(ctx, path, CSVOptions{Delimiter: '\t', Encoding: opts.Encoding, LazyQuotes: true, TrimSpace: true})
	default:
		records, err = readDelimited(ctx, path, CSVOptions{Encoding: opts.Encoding, LazyQuotes: true, TrimSpace: true})
	}
	if err != nil {
		return nil, err
	}

	return NewTable(path, records)
}

// NewTable builds a Table from raw records whose first row is the header.
func NewTable(source string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, eris.Errorf("table: %s has no header row", source)
	}

	header := make([]string, len(records[0]))
	index := make(map[string]int, len(header))
	for i, col := range records[0] {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		header[i] = col
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}

	return &Table{
		Source: source,
		Header: header,
		Rows:   records[1:],
		index:  index,
	}, nil
}

// Has reports whether the header contains col.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Require returns an error naming the first missing column.
func (t *Table) Require(cols ...string) error {
	for _, col := range cols {
		if !t.Has(col) {
			return eris.Errorf("table: %s missing required column %q", t.Source, col)
		}
	}
	return nil
}

// Get safely retrieves a column value from a row. Missing columns and short
// rows read as empty.
func (t *Table) Get(row []string, col string) string {
	idx, ok := t.index[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func readDelimited(ctx context.Context, path string, opts CSVOptions) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := StreamCSV(ctx, f, opts)

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}
