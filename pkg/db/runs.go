package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtnitsch/site-harvest/models"
)

// Run statuses.
const (
	StatusRunning        = "running"
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	RunID       string
	Command     string
	Domain      string
	Timestamp   string
	OutputDir   string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	FileCount   int
	FailedCount int
	TotalBytes  int64
}

// Assignment is one stored identity of a run.
type Assignment struct {
	Identity string
	Path     string
}

const timeLayout = time.RFC3339Nano

// CreateRun inserts a new run in the running state.
func (db *DB) CreateRun(runID, command, domain, timestamp, outputDir string, startedAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, command, domain, target_timestamp, output_dir, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, command, domain, timestamp, outputDir, startedAt.UTC().Format(timeLayout), StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (db *DB) FinishRun(runID, status string, fileCount, failedCount int, totalBytes int64, finishedAt time.Time) error {
	result, err := db.Exec(`
		UPDATE runs
		SET status = ?, file_count = ?, failed_count = ?, total_bytes = ?, finished_at = ?
		WHERE run_id = ?
	`, status, fileCount, failedCount, totalBytes, finishedAt.UTC().Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// InsertAssignments stores the assignments of a run in one transaction.
func (db *DB) InsertAssignments(runID string, assignments []Assignment) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO assignments (run_id, identity, path) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range assignments {
			if _, err := stmt.Exec(runID, a.Identity, a.Path); err != nil {
				return fmt.Errorf("failed to insert assignment %s: %w", a.Identity, err)
			}
		}
		return nil
	})
}

// InsertFailures stores the failures of a run in one transaction, keeping their order.
func (db *DB) InsertFailures(runID string, failures []models.Failure) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO failures (run_id, url, phase, error_message) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range failures {
			if _, err := stmt.Exec(runID, f.URL, f.Phase, f.Error); err != nil {
				return fmt.Errorf("failed to insert failure %s: %w", f.URL, err)
			}
		}
		return nil
	})
}

func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() // Rollback error less important than the cause
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const runColumns = `run_id, command, domain, target_timestamp, output_dir, started_at,
		       COALESCE(finished_at, ''), status, file_count, failed_count, total_bytes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var started, finished string
	if err := row.Scan(&r.RunID, &r.Command, &r.Domain, &r.Timestamp, &r.OutputDir, &started,
		&finished, &r.Status, &r.FileCount, &r.FailedCount, &r.TotalBytes); err != nil {
		return r, err
	}
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return r, fmt.Errorf("invalid started_at %q: %w", started, err)
	}
	if finished != "" {
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return r, fmt.Errorf("invalid finished_at %q: %w", finished, err)
		}
	}
	return r, nil
}

// ListRuns returns runs newest first, optionally filtered by domain.
func (db *DB) ListRuns(domain string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conditions []string
	var args []any
	if domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, domain)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run. A unique prefix of the run ID is accepted.
func (db *DB) GetRun(runID string) (*Run, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs WHERE run_id LIKE ? || '%' LIMIT 2`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("run ID prefix %q is ambiguous", runID)
	}
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun() (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no runs recorded", ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &r, nil
}

// GetRunFailures returns the failures of a run in recorded order, optionally one phase only.
func (db *DB) GetRunFailures(runID, phase string) ([]models.Failure, error) {
	query := `SELECT url, phase, COALESCE(error_message, '') FROM failures WHERE run_id = ?`
	args := []any{runID}
	if phase != "" {
		query += " AND phase = ?"
		args = append(args, phase)
	}
	query += " ORDER BY failure_id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get run failures: %w", err)
	}
	defer rows.Close()

	var failures []models.Failure
	for rows.Next() {
		var f models.Failure
		if err := rows.Scan(&f.URL, &f.Phase, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// GetRunAssignments returns the assignments of a run sorted by identity.
func (db *DB) GetRunAssignments(runID string) ([]Assignment, error) {
	rows, err := db.Query(`SELECT identity, path FROM assignments WHERE run_id = ? ORDER BY identity`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.Identity, &a.Path); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
