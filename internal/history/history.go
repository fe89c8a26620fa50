// Package history keeps a local sqlite record of filled forms so the same
// application is not submitted twice by accident.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spigell/form-filler/internal/filling"
)

// ErrAlreadyFilled is returned by Check when a completed run exists for the URL.
var ErrAlreadyFilled = errors.New("form already filled")

const defaultListLimit = 20

// Run is one recorded fill of a form.
type Run struct {
	ID          int64
	URL         string
	StartedAt   time.Time
	FinishedAt  time.Time
	Filled      int
	Skipped     int
	Weak        int
	Failed      int
	Interrupted bool
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("history: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		url         TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		filled      INTEGER NOT NULL DEFAULT 0,
		skipped     INTEGER NOT NULL DEFAULT 0,
		weak        INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		interrupted INTEGER NOT NULL DEFAULT 0,
		report      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_url ON runs (url)`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores the report of a finished run and returns its id.
func (s *Store) Record(ctx context.Context, report *filling.Report) (int64, error) {
	if report == nil {
		return 0, errors.New("history: nil report")
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("history: encode report: %w", err)
	}

	totals := report.Totals()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (url, started_at, finished_at, filled, skipped, weak, failed, interrupted, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key(report.URL), formatTime(report.StartedAt), formatTime(report.FinishedAt),
		totals.Filled, totals.Skipped, totals.Weak, totals.Failed, report.Interrupted, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: last insert id: %w", err)
	}
	return id, nil
}

// Seen reports whether a run that was not interrupted exists for url.
func (s *Store) Seen(ctx context.Context, url string) (bool, error) {
	last, err := s.last(ctx, url)
	if err != nil {
		return false, err
	}
	return last != nil, nil
}

// Check returns ErrAlreadyFilled when url has a completed run.
func (s *Store) Check(ctx context.Context, url string) error {
	last, err := s.last(ctx, url)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	return fmt.Errorf("%w: %s on %s (run %d)", ErrAlreadyFilled, last.URL, last.FinishedAt.Format(time.RFC3339), last.ID)
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, started_at, finished_at, filled, skipped, weak, failed, interrupted
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: read rows: %w", err)
	}
	return runs, nil
}

// Report returns the stored report of run id.
func (s *Store) Report(ctx context.Context, id int64) (*filling.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("history: query run %d: %w", id, err)
	}

	var report filling.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("history: decode run %d: %w", id, err)
	}
	return &report, nil
}

func (s *Store) last(ctx context.Context, url string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, started_at, finished_at, filled, skipped, weak, failed, interrupted
		 FROM runs WHERE url = ? AND interrupted = 0 ORDER BY id DESC LIMIT 1`, key(url))

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started, finished string
	var interrupted bool
	err := row.Scan(&run.ID, &run.URL, &started, &finished,
		&run.Filled, &run.Skipped, &run.Weak, &run.Failed, &interrupted)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("history: scan: %w", err)
	}

	run.Interrupted = interrupted
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

func key(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
