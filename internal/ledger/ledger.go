// Package ledger records run and per-row outcomes in a local sqlite
// database so interrupted batches can resume without resubmitting rows.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"surveyfill/internal/logging"
)

// Row statuses.
const (
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// Ledger wraps the sqlite store.
type Ledger struct {
	db   *sql.DB
	path string
}

// Run is one batch invocation.
type Run struct {
	ID          string
	CSVPath     string
	MappingPath string
	SurveyURL   string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Done        int
	Failed      int
	Skipped     int
}

// RowResult is one row outcome within a run.
type RowResult struct {
	RunID      string
	RowIndex   int
	Status     string
	Attempts   int
	Error      string
	FinishedAt time.Time
}

// Open creates or opens the ledger database, creating parent
// directories and the schema as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		csv_path TEXT NOT NULL,
		mapping_path TEXT NOT NULL,
		survey_url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS row_results (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		finished_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, row_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_row_results_status ON row_results(status);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize ledger schema: %w", err)
	}
	return nil
}

// BeginRun registers a new run and returns its ID.
func (l *Ledger) BeginRun(csvPath, mappingPath, surveyURL string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.Exec(
		`INSERT INTO runs (id, csv_path, mapping_path, survey_url, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, csvPath, mappingPath, surveyURL, RunRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	logging.Get(logging.CategoryLedger).Info("run %s started for %s", id, csvPath)
	return id, nil
}

// RecordRow stores the outcome for one row, replacing any earlier
// outcome for the same row within the run.
func (l *Ledger) RecordRow(runID string, rowIndex int, status string, attempts int, errMsg string) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO row_results (run_id, row_index, status, attempts, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, rowIndex, status, attempts, errMsg, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record row %d: %w", rowIndex, err)
	}
	return nil
}

// FinishRun marks a run finished.
func (l *Ledger) FinishRun(runID, status string) error {
	_, err := l.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// DoneRows returns the indices of rows already submitted for a CSV
// path, across all previous runs. Failed and skipped rows are not
// included; a resumed run retries them.
func (l *Ledger) DoneRows(csvPath string) (map[int]bool, error) {
	rows, err := l.db.Query(
		`SELECT rr.row_index FROM row_results rr
		 JOIN runs r ON r.id = rr.run_id
		 WHERE r.csv_path = ? AND rr.status = ?`,
		csvPath, StatusDone,
	)
	if err != nil {
		return nil, fmt.Errorf("query done rows: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		done[idx] = true
	}
	return done, rows.Err()
}

// Runs returns recent runs, newest first, with per-status row counts.
func (l *Ledger) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(
		`SELECT r.id, r.csv_path, r.mapping_path, r.survey_url, r.status, r.started_at, r.finished_at,
		        COALESCE(SUM(CASE WHEN rr.status = 'done' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN rr.status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN rr.status = 'skipped' THEN 1 ELSE 0 END), 0)
		 FROM runs r
		 LEFT JOIN row_results rr ON rr.run_id = r.id
		 GROUP BY r.id
		 ORDER BY r.started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CSVPath, &r.MappingPath, &r.SurveyURL, &r.Status,
			&r.StartedAt, &r.FinishedAt, &r.Done, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RowResults returns the per-row outcomes of one run, in row order.
func (l *Ledger) RowResults(runID string) ([]RowResult, error) {
	rows, err := l.db.Query(
		`SELECT run_id, row_index, status, attempts, COALESCE(error, ''), finished_at
		 FROM row_results WHERE run_id = ? ORDER BY row_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query row results: %w", err)
	}
	defer rows.Close()

	var out []RowResult
	for rows.Next() {
		var rr RowResult
		if err := rows.Scan(&rr.RunID, &rr.RowIndex, &rr.Status, &rr.Attempts, &rr.Error, &rr.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
