// Package audit keeps a download log of finished exports in SQLite.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ygrebnov/errorc"
)

const Namespace = "audit"

var ErrNotFound = errors.New(Namespace + ": job not found")

// Summary describes one finished export.
type Summary struct {
	JobID    string
	User     string
	Status   string
	Rows     int64
	Error    string
	Started  time.Time
	Finished time.Time
	// Sources maps a source identifier to the number of exported rows from it.
	Sources map[string]int64
}

// Store records summaries. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	requester TEXT NOT NULL,
	status TEXT NOT NULL,
	rows INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS job_sources (
	job_id TEXT NOT NULL REFERENCES jobs(id),
	uid TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (job_id, uid)
);
CREATE INDEX IF NOT EXISTS jobs_finished ON jobs(finished_at);
`

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errorc.With(err, errorc.String("path", path))
	}
	// one connection: an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errorc.With(err, errorc.String("path", path))
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores sum. Recording the same job twice replaces the first record.
func (s *Store) Record(ctx context.Context, sum Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (id, requester, status, rows, error, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.JobID, sum.User, sum.Status, sum.Rows, sum.Error, sum.Started.UnixNano(), sum.Finished.UnixNano())
	if err != nil {
		return errorc.With(err, errorc.String("job", sum.JobID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_sources WHERE job_id = ?`, sum.JobID); err != nil {
		return err
	}
	for uid, n := range sum.Sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_sources (job_id, uid, count) VALUES (?, ?, ?)`, sum.JobID, uid, n); err != nil {
			return errorc.With(err, errorc.String("job", sum.JobID), errorc.String("uid", uid))
		}
	}
	return tx.Commit()
}

// Get returns the summary of job id.
func (s *Store) Get(ctx context.Context, id string) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, requester, status, rows, error, started_at, finished_at FROM jobs WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, errorc.With(ErrNotFound, errorc.String("job", id))
	}
	if err != nil {
		return Summary{}, err
	}
	if sum.Sources, err = s.sources(ctx, id); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Recent returns up to limit summaries, newest first. Per-source counts are included.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, requester, status, rows, error, started_at, finished_at FROM jobs ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Sources, err = s.sources(ctx, out[i].JobID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TopSources aggregates row counts per source over all jobs, largest first.
func (s *Store) TopSources(ctx context.Context, limit int) ([]SourceCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, SUM(count) AS total FROM job_sources GROUP BY uid ORDER BY total DESC, uid LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.UID, &sc.Rows); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SourceCount is a source identifier with a row total.
type SourceCount struct {
	UID  string
	Rows int64
}

func (s *Store) sources(ctx context.Context, id string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, count FROM job_sources WHERE job_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			uid string
			n   int64
		)
		if err := rows.Scan(&uid, &n); err != nil {
			return nil, err
		}
		out[uid] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(r scanner) (Summary, error) {
	var (
		sum                Summary
		started, finished int64
	)
	if err := r.Scan(&sum.JobID, &sum.User, &sum.Status, &sum.Rows, &sum.Error, &started, &finished); err != nil {
		return Summary{}, err
	}
	sum.Started = time.Unix(0, started)
	sum.Finished = time.Unix(0, finished)
	return sum, nil
}

// SortedSources returns the identifiers of sum.Sources in descending count order.
func (sum Summary) SortedSources() []string {
	ids := make([]string, 0, len(sum.Sources))
	for id := range sum.Sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if sum.Sources[ids[i]] != sum.Sources[ids[j]] {
			return sum.Sources[ids[i]] > sum.Sources[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
