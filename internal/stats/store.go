package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"tensord/internal/backend"
)

const writeTimeout = 2 * time.Second

// Store keeps a history of executions and request outcomes in sqlite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Execution is one recorded batch execution.
type Execution struct {
	Model     string        `json:"model"`
	Instance  string        `json:"instance"`
	BatchSize int           `json:"batch_size"`
	Started   time.Time     `json:"started"`
	Compute   time.Duration `json:"compute_ns"`
	Exec      time.Duration `json:"exec_ns"`
}

// Summary aggregates request outcomes for one model.
type Summary struct {
	Requests   int64 `json:"requests"`
	Failures   int64 `json:"failures"`
	Executions int64 `json:"executions"`
}

// OpenStore opens (or creates) the sqlite database at path. ":memory:" keeps
// the history in the single pooled connection.
func OpenStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS executions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  model TEXT NOT NULL,
  instance TEXT NOT NULL,
  batch_size INTEGER NOT NULL,
  started_at DATETIME NOT NULL,
  compute_ns INTEGER NOT NULL,
  exec_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS executions_model ON executions(model, id);

CREATE TABLE IF NOT EXISTS request_outcomes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  model TEXT NOT NULL,
  instance TEXT NOT NULL,
  request_id TEXT NOT NULL,
  success INTEGER NOT NULL,
  started_at DATETIME NOT NULL,
  exec_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS request_outcomes_model ON request_outcomes(model);
`)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordExecution(ctx context.Context, e Execution) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO executions(model, instance, batch_size, started_at, compute_ns, exec_ns)
VALUES(?, ?, ?, ?, ?, ?);
`, e.Model, e.Instance, e.BatchSize, e.Started.UTC(), int64(e.Compute), int64(e.Exec))
	return err
}

func (s *Store) RecordRequest(ctx context.Context, model, instance, requestID string, success bool, started time.Time, exec time.Duration) error {
	ok := 0
	if success {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO request_outcomes(model, instance, request_id, success, started_at, exec_ns)
VALUES(?, ?, ?, ?, ?, ?);
`, model, instance, requestID, ok, started.UTC(), int64(exec))
	return err
}

// Recent returns up to n most recent executions of model, newest first.
func (s *Store) Recent(ctx context.Context, model string, n int) ([]Execution, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT model, instance, batch_size, started_at, compute_ns, exec_ns
FROM executions WHERE model=? ORDER BY id DESC LIMIT ?;
`, model, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                 Execution
			computeNs, execNs int64
		)
		if err := rows.Scan(&e.Model, &e.Instance, &e.BatchSize, &e.Started, &computeNs, &execNs); err != nil {
			return nil, err
		}
		e.Compute, e.Exec = time.Duration(computeNs), time.Duration(execNs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Summary(ctx context.Context, model string) (Summary, error) {
	var sum Summary
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN success=0 THEN 1 ELSE 0 END), 0)
FROM request_outcomes WHERE model=?;
`, model)
	if err := row.Scan(&sum.Requests, &sum.Failures); err != nil {
		return Summary{}, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE model=?;`, model)
	if err := row.Scan(&sum.Executions); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Reporter returns a statistics sink for model that writes into the store.
func (s *Store) Reporter(model string) backend.Statistics {
	return storeReporter{s: s, model: model}
}

type storeReporter struct {
	s     *Store
	model string
}

func (r storeReporter) ReportRequest(instance string, req backend.Request, success bool, ts backend.Timestamps) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.s.RecordRequest(ctx, r.model, instance, req.ID(), success, ts.ExecStart, ts.ExecEnd.Sub(ts.ExecStart)); err != nil {
		r.s.log.Warn().Err(err).Str("model", r.model).Msg("record request outcome")
	}
}

func (r storeReporter) ReportBatch(instance string, batchSize int, ts backend.Timestamps) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	e := Execution{
		Model:     r.model,
		Instance:  instance,
		BatchSize: batchSize,
		Started:   ts.ExecStart,
		Compute:   ts.ComputeEnd.Sub(ts.ComputeStart),
		Exec:      ts.ExecEnd.Sub(ts.ExecStart),
	}
	if err := r.s.RecordExecution(ctx, e); err != nil {
		r.s.log.Warn().Err(err).Str("model", r.model).Msg("record execution")
	}
}
