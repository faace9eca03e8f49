package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL DEFAULT 'running',
	customers_path TEXT NOT NULL,
	orders_path    TEXT NOT NULL,
	k              INTEGER NOT NULL DEFAULT 0,
	accounts       INTEGER NOT NULL DEFAULT 0,
	row_count      INTEGER NOT NULL DEFAULT 0,
	conflicts      INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS preferences (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	account_id       TEXT NOT NULL,
	category         TEXT NOT NULL,
	frequency        INTEGER NOT NULL,
	average_recency  REAL NOT NULL,
	weighted_recency REAL NOT NULL,
	preference_score REAL NOT NULL,
	PRIMARY KEY (run_id, account_id, category)
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	account_id TEXT NOT NULL,
	cluster    INTEGER NOT NULL,
	PRIMARY KEY (run_id, account_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_assignments_cluster ON assignments(run_id, cluster);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Another process may hold the write lock while it migrates.
	err := resilience.Do(ctx, resilience.DefaultBackoff(), "sqlite: migrate", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, sqliteMigration)
		return err
	})
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, customersPath, ordersPath string) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:            uuid.New().String(),
		Status:        model.RunStatusRunning,
		CustomersPath: customersPath,
		OrdersPath:    ordersPath,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, customers_path, orders_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.CustomersPath, run.OrdersPath, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	run.Status = model.RunStatusComplete
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, k = ?, accounts = ?, row_count = ?, conflicts = ?, updated_at = ? WHERE id = ?`,
		string(run.Status), run.K, run.Accounts, run.Rows, run.Conflicts, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail run")
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, status, customers_path, orders_path, k, accounts, row_count, conflicts, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SavePreferences(ctx context.Context, runID string, prefs []model.Preference) error {
	return s.insertBatch(ctx, "preferences",
		`INSERT INTO preferences (run_id, account_id, category, frequency, average_recency, weighted_recency, preference_score) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(prefs), func(stmt *sql.Stmt, i int) error {
			p := prefs[i]
			_, err := stmt.ExecContext(ctx, runID, p.AccountID, p.Category, p.Frequency,
				p.AverageRecency, p.WeightedRecency, p.PreferenceScore)
			return err
		})
}

func (s *SQLiteStore) SaveAssignments(ctx context.Context, runID string, assignments []model.Assignment) error {
	return s.insertBatch(ctx, "assignments",
		`INSERT INTO assignments (run_id, account_id, cluster) VALUES (?, ?, ?)`,
		len(assignments), func(stmt *sql.Stmt, i int) error {
			a := assignments[i]
			_, err := stmt.ExecContext(ctx, runID, a.AccountID, a.Cluster)
			return err
		})
}

// insertBatch runs n executions of one prepared insert inside a transaction.
func (s *SQLiteStore) insertBatch(ctx context.Context, table, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s row %d", table, i)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", table)
}

func (s *SQLiteStore) ListPreferences(ctx context.Context, runID string) ([]model.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, category, frequency, average_recency, weighted_recency, preference_score
		 FROM preferences WHERE run_id = ? ORDER BY account_id, category`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list preferences")
	}
	defer rows.Close() //nolint:errcheck

	var prefs []model.Preference
	for rows.Next() {
		var p model.Preference
		if err := rows.Scan(&p.AccountID, &p.Category, &p.Frequency, &p.AverageRecency, &p.WeightedRecency, &p.PreferenceScore); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan preference")
		}
		prefs = append(prefs, p)
	}
	return prefs, eris.Wrap(rows.Err(), "sqlite: list preferences iterate")
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, runID string) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, cluster FROM assignments WHERE run_id = ? ORDER BY account_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assignments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.AccountID, &a.Cluster); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assignments iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.Status, &r.CustomersPath, &r.OrdersPath,
		&r.K, &r.Accounts, &r.Rows, &r.Conflicts, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
