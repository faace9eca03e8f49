// Package store persists segmentation runs with their preference rows and
// cluster assignments.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for segmentation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, customersPath, ordersPath string) (*model.Run, error)
	CompleteRun(ctx context.Context, run *model.Run) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Run outputs
	SavePreferences(ctx context.Context, runID string, prefs []model.Preference) error
	SaveAssignments(ctx context.Context, runID string, assignments []model.Assignment) error
	ListPreferences(ctx context.Context, runID string) ([]model.Preference, error)
	ListAssignments(ctx context.Context, runID string) ([]model.Assignment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver and applies migrations.
// Supported drivers are "sqlite" and "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(driver) {
	case "sqlite", "":
		s, err = NewSQLite(dsn)
	case "postgres", "postgresql":
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
