package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/resilience"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	ping := func(ctx context.Context) error { return pool.Ping(ctx) }
	if err := resilience.Do(ctx, resilience.DefaultBackoff(), "postgres: ping", ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS preferences (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	account_id       TEXT NOT NULL,
	category         TEXT NOT NULL,
	frequency        INTEGER NOT NULL,
	average_recency  DOUBLE PRECISION NOT NULL,
	weighted_recency DOUBLE PRECISION NOT NULL,
	preference_score DOUBLE PRECISION NOT NULL,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := resilience.Do(ctx, resilience.DefaultBackoff(), "postgres: migrate", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, postgresMigration)
		return err
	})
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, customersPath, ordersPath string) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:            uuid.New().String(),
		Status:        model.RunStatusRunning,
		CustomersPath: customersPath,
		OrdersPath:    ordersPath,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, customers_path, orders_path, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.CustomersPath, run.OrdersPath, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	run.Status = model.RunStatusComplete
	run.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, k = $2, accounts = $3, row_count = $4, conflicts = $5, updated_at = $6 WHERE id = $7`,
		string(run.Status), run.K, run.Accounts, run.Rows, run.Conflicts, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: complete run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errorText(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: fail run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, status, customers_path, orders_path, k, accounts, row_count, conflicts, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get run %s: run not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SavePreferences(ctx context.Context, runID string, prefs []model.Preference) error {
	rows := make([][]any, len(prefs))
	for i, p := range prefs {
		rows[i] = []any{runID, p.AccountID, p.Category, p.Frequency, p.AverageRecency, p.WeightedRecency, p.PreferenceScore}
	}
	_, err := s.copyFrom(ctx, "preferences",
		[]string{"run_id", "account_id", "category", "frequency", "average_recency", "weighted_recency", "preference_score"},
		rows)
	return err
}

func (s *PostgresStore) SaveAssignments(ctx context.Context, runID string, assignments []model.Assignment) error {
	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		rows[i] = []any{runID, a.AccountID, a.Cluster}
	}
	_, err := s.copyFrom(ctx, "assignments", []string{"run_id", "account_id", "cluster"}, rows)
	return err
}

// copyFrom bulk-inserts rows using the COPY protocol.
func (s *PostgresStore) copyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: COPY INTO %s", table)
	}
	return n, nil
}

func (s *PostgresStore) ListPreferences(ctx context.Context, runID string) ([]model.Preference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, category, frequency, average_recency, weighted_recency, preference_score
		 FROM preferences WHERE run_id = $1 ORDER BY account_id, category`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list preferences")
	}
	defer rows.Close()

	var prefs []model.Preference
	for rows.Next() {
		var p model.Preference
		if err := rows.Scan(&p.AccountID, &p.Category, &p.Frequency, &p.AverageRecency, &p.WeightedRecency, &p.PreferenceScore); err != nil {
			return nil, eris.Wrap(err, "postgres: scan preference")
		}
		prefs = append(prefs, p)
	}
	return prefs, eris.Wrap(rows.Err(), "postgres: list preferences iterate")
}

func (s *PostgresStore) ListAssignments(ctx context.Context, runID string) ([]model.Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, cluster FROM assignments WHERE run_id = $1 ORDER BY account_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assignments")
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.AccountID, &a.Cluster); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assignments iterate")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	if err := row.Scan(&r.ID, &status, &r.CustomersPath, &r.OrdersPath,
		&r.K, &r.Accounts, &r.Rows, &r.Conflicts, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}
