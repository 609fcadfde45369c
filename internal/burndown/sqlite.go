package burndown

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	runner    TEXT NOT NULL,
	worker    TEXT NOT NULL,
	framework TEXT NOT NULL,
	filename  TEXT NOT NULL,
	start_ns  INTEGER NOT NULL,
	end_ns    INTEGER NOT NULL,
	tests     INTEGER NOT NULL,
	failures  INTEGER NOT NULL,
	failed    INTEGER NOT NULL,
	retried   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_run ON entries(run_id);
`

// SQLiteStore appends every run to a SQLite database, so the history of
// file durations accumulates across runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open burndown database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate burndown database %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(r *Report) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO runs (id, started_at, finished_at) VALUES (?, ?, ?)`,
		r.RunID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO entries
		(run_id, runner, worker, framework, filename, start_ns, end_ns, tests, failures, failed, retried)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range r.Entries {
		if _, err := stmt.Exec(r.RunID, e.Runner, e.Worker, e.Framework, e.Filename,
			int64(e.Start), int64(e.End), e.Tests, e.Failures, e.Failed, e.Retried); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Label(), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load() (*Report, error) {
	var (
		r                 Report
		started, finished int64
	)
	err := s.db.QueryRow(`SELECT id, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.RunID, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("burndown database has no runs")
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	r.StartedAt, r.FinishedAt = time.Unix(0, started), time.Unix(0, finished)

	rows, err := s.db.Query(`SELECT runner, worker, framework, filename, start_ns, end_ns, tests, failures, failed, retried
		FROM entries WHERE run_id = ? ORDER BY rowid`, r.RunID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e          Entry
			start, end int64
		)
		if err := rows.Scan(&e.Runner, &e.Worker, &e.Framework, &e.Filename, &start, &end,
			&e.Tests, &e.Failures, &e.Failed, &e.Retried); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Start, e.End = time.Duration(start), time.Duration(end)
		r.Entries = append(r.Entries, e)
	}
	return &r, rows.Err()
}

// Runs returns the number of runs recorded.
func (s *SQLiteStore) Runs() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
