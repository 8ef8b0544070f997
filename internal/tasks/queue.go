// Package tasks runs document indexing in the background with
// at-least-once delivery. Jobs are durable in a local SQLite database so
// a process restart re-delivers anything that was in flight, and a
// bounded retry budget with escalating delays separates transient
// infrastructure failures from permanent ones.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrEmpty is returned by Claim when no job is due.
var ErrEmpty = errors.New("tasks: queue empty")

// Job is one scheduled indexing attempt.
type Job struct {
	ID         int64
	DocumentID int64
	// Attempts counts completed (failed) runs; the task body sees it as
	// the current retry count.
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	LastError   string
}

// Retries remaining for this job after the current attempt fails.
func (j *Job) RetriesLeft() int {
	left := j.MaxAttempts - j.Attempts - 1
	if left < 0 {
		return 0
	}
	return left
}

// Queue is a durable single-host job queue.
type Queue struct {
	db *sql.DB
	// retryDelay is the base delay; attempt n waits n times this.
	retryDelay  time.Duration
	maxAttempts int
}

// Open opens (or creates) the queue database at path and migrates its
// schema. Use ":memory:" in tests. maxAttempts includes the first run, so
// 4 means one initial attempt plus 3 retries.
func Open(path string, maxAttempts int, retryDelay time.Duration) (*Queue, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, retryDelay: retryDelay, maxAttempts: maxAttempts}
	if err := q.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id  INTEGER NOT NULL,
    state        TEXT    NOT NULL DEFAULT 'pending' CHECK(state IN ('pending','running','done','failed')),
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL,
    next_run_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    last_error   TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (state, next_run_at);
`
	if _, err := q.db.Exec(ddl); err != nil {
		return fmt.Errorf("tasks: migrate: %w", err)
	}
	return nil
}

// Enqueue schedules an indexing job for the document, due immediately.
// Callers must invoke this only after the document row's transaction has
// committed, so the worker can never observe a row that might roll back.
func (q *Queue) Enqueue(ctx context.Context, documentID int64) error {
	now := time.Now().Unix()
	const ins = `INSERT INTO jobs (document_id, max_attempts, next_run_at, created_at) VALUES (?, ?, ?, ?)`
	if _, err := q.db.ExecContext(ctx, ins, documentID, q.maxAttempts, now, now); err != nil {
		return fmt.Errorf("tasks: enqueue document %d: %w", documentID, err)
	}
	return nil
}

// Claim takes the oldest due job and marks it running. Returns ErrEmpty
// when nothing is due. Recovery of jobs stuck in 'running' after a crash
// happens in Recover, not here.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tasks: claim: %w", err)
	}
	defer tx.Rollback()

	const sel = `
SELECT id, document_id, attempts, max_attempts, next_run_at, last_error
FROM   jobs
WHERE  state = 'pending' AND next_run_at <= ?
ORDER  BY next_run_at ASC, id ASC
LIMIT  1`

	job := new(Job)
	var due int64
	err = tx.QueryRowContext(ctx, sel, time.Now().Unix()).
		Scan(&job.ID, &job.DocumentID, &job.Attempts, &job.MaxAttempts, &due, &job.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: claim scan: %w", err)
	}
	job.NextRunAt = time.Unix(due, 0)

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET state = 'running' WHERE id = ?`, job.ID); err != nil {
		return nil, fmt.Errorf("tasks: claim update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tasks: claim commit: %w", err)
	}
	return job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE jobs SET state = 'done' WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("tasks: complete job %d: %w", jobID, err)
	}
	return nil
}

// Retry records a failed attempt. If the retry budget still has room the
// job goes back to pending with an escalating delay (attempt n waits n
// times the base delay); otherwise it is marked failed permanently and
// exhausted=true is returned so the caller can run exhaustion cleanup.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (exhausted bool, err error) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		const fail = `UPDATE jobs SET state = 'failed', attempts = ?, last_error = ? WHERE id = ?`
		if _, err := q.db.ExecContext(ctx, fail, attempts, cause.Error(), job.ID); err != nil {
			return false, fmt.Errorf("tasks: fail job %d: %w", job.ID, err)
		}
		return true, nil
	}

	delay := time.Duration(attempts) * q.retryDelay
	const resched = `UPDATE jobs SET state = 'pending', attempts = ?, next_run_at = ?, last_error = ? WHERE id = ?`
	_, err = q.db.ExecContext(ctx, resched, attempts, time.Now().Add(delay).Unix(), cause.Error(), job.ID)
	if err != nil {
		return false, fmt.Errorf("tasks: reschedule job %d: %w", job.ID, err)
	}
	return false, nil
}

// Recover re-queues jobs left in 'running' by a previous process crash.
// At-least-once delivery: the job body may have partially run already.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'pending', next_run_at = ? WHERE state = 'running'`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("tasks: recover: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the database connection.
func (q *Queue) Close() error {
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("tasks: close: %w", err)
	}
	return nil
}
