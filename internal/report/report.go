// Package report writes the run's tables and summaries to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// WritePreferences writes the feature table with columns ACCOUNT_ID,
// New Category, frequency, average_recency, weighted_recency,
// preference_score.
func WritePreferences(w io.Writer, prefs []model.Preference) error {
	return writeCSV(w, model.Preference{}, prefs)
}

// ReadPreferences parses a feature table written by WritePreferences.
func ReadPreferences(r io.Reader) ([]model.Preference, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "report: read preferences")
	}
	var prefs []model.Preference
	if err := csvutil.Unmarshal(data, &prefs); err != nil {
		return nil, eris.Wrap(err, "report: decode preferences")
	}
	return prefs, nil
}

// WriteAssignments writes ACCOUNT_ID, cluster rows.
func WriteAssignments(w io.Writer, assignments []model.Assignment) error {
	return writeCSV(w, model.Assignment{}, assignments)
}

// WriteOrders writes the cleaned order table.
func WriteOrders(w io.Writer, orders []model.Order) error {
	return writeCSV(w, model.Order{}, orders)
}

// WriteConflicts writes the inconsistent duplicate order ids as a JSON
// anomaly report. An empty list is written as [].
func WriteConflicts(w io.Writer, conflicts []model.DuplicateConflict) error {
	if conflicts == nil {
		conflicts = []model.DuplicateConflict{}
	}
	return WriteJSON(w, conflicts)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "report: encode json")
}

// WriteFile creates dir/name and hands it to write.
func WriteFile(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", dir)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "report: create %s", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "report: close %s", path)
	}
	return path, nil
}

func writeCSV[T any](w io.Writer, header T, rows []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false

	if err := enc.EncodeHeader(header); err != nil {
		return eris.Wrap(err, "report: encode header")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return eris.Wrap(err, "report: encode row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}
