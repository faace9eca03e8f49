package ingest

import (
	"github.com/sells-group/segment-cli/internal/fetcher"
	"github.com/sells-group/segment-cli/internal/model"
)

// CustomerStats counts what customer cleaning kept and dropped.
type CustomerStats struct {
	Total           int `json:"total"`
	MissingAccount  int `json:"missing_account"`
	MissingRequired int `json:"missing_required"`
	Duplicates      int `json:"duplicates"`
	Kept            int `json:"kept"`
}

// CleanCustomers converts the customer extract into unique, non-empty
// accounts. Rows missing any required field are dropped and counted, not
// reported as errors. Repeated account ids keep the first row.
func CleanCustomers(tbl *fetcher.Table, required []string) ([]model.Customer, CustomerStats, error) {
	cols := append([]string{model.ColAccountID}, required...)
	if err := tbl.Require(cols...); err != nil {
		return nil, CustomerStats{}, &SourceReadError{Source: tbl.Source, Err: err}
	}

	stats := CustomerStats{Total: len(tbl.Rows)}
	seen := make(map[string]bool, len(tbl.Rows))
	customers := make([]model.Customer, 0, len(tbl.Rows))

rows:
	for _, row := range tbl.Rows {
		id := CanonicalAccountID(tbl.Get(row, model.ColAccountID))
		if isNull(id) {
			stats.MissingAccount++
			continue
		}
		for _, col := range required {
			if isNull(tbl.Get(row, col)) {
				stats.MissingRequired++
				continue rows
			}
		}
		if seen[id] {
			stats.Duplicates++
			continue
		}
		seen[id] = true

		fields := make(map[string]string, len(tbl.Header)-1)
		for _, col := range tbl.Header {
			if col == model.ColAccountID || col == "" {
				continue
			}
			fields[col] = tbl.Get(row, col)
		}
		customers = append(customers, model.Customer{AccountID: id, Fields: fields})
	}

	stats.Kept = len(customers)
	return customers, stats, nil
}

// isNull treats the usual spreadsheet/pandas null spellings as missing.
func isNull(v string) bool {
	switch v {
	case "", "NaN", "nan", "NULL", "null", "None", "N/A", "NA":
		return true
	}
	return false
}
