package ingest

import (
	"fmt"
	"strings"

	"github.com/sells-group/segment-cli/internal/model"
)

// SourceReadError reports a source that cannot be read into the expected
// tabular shape. Row is the 1-based line in the source (header = 1), or 0
// when the failure is not tied to a row.
type SourceReadError struct {
	Source string
	Row    int
	Err    error
}

func (e *SourceReadError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("ingest: read %s row %d: %v", e.Source, e.Row, e.Err)
	}
	return fmt.Sprintf("ingest: read %s: %v", e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// InconsistentDuplicateError is returned in strict mode when duplicate rows of
// an order id disagree on account, timestamp, method or category.
type InconsistentDuplicateError struct {
	Conflicts []model.DuplicateConflict
}

func (e *InconsistentDuplicateError) Error() string {
	ids := e.OrderIDs()
	const maxListed = 10
	suffix := ""
	if len(ids) > maxListed {
		suffix = fmt.Sprintf(" (+%d more)", len(ids)-maxListed)
		ids = ids[:maxListed]
	}
	return fmt.Sprintf("ingest: %d inconsistent duplicate order ids: %s%s",
		len(e.Conflicts), strings.Join(ids, ", "), suffix)
}

// OrderIDs lists the offending order ids.
func (e *InconsistentDuplicateError) OrderIDs() []string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.OrderID
	}
	return ids
}
