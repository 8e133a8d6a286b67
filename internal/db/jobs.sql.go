package db

import (
	"context"
	"time"
)

const (
	JobStatePending   = "pending"
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
)

const jobColumns = `id, user_id, kind, state, payload, attempts, max_attempts, pages_fetched,
    activities_saved, last_error, run_at, created_at, started_at, finished_at`

func scanJob(row interface{ Scan(...interface{}) error }) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.UserID,
		&j.Kind,
		&j.State,
		&j.Payload,
		&j.Attempts,
		&j.MaxAttempts,
		&j.PagesFetched,
		&j.ActivitiesSaved,
		&j.LastError,
		&j.RunAt,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	return j, err
}

const createJob = `-- name: CreateJob :one
INSERT INTO jobs (id, user_id, kind, payload, max_attempts, run_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + jobColumns

type CreateJobParams struct {
	ID          string
	UserID      int64
	Kind        string
	Payload     string
	MaxAttempts int64
	RunAt       int64
}

func (q *Queries) CreateJob(ctx context.Context, arg CreateJobParams) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, createJob,
		arg.ID,
		arg.UserID,
		arg.Kind,
		arg.Payload,
		arg.MaxAttempts,
		arg.RunAt,
		time.Now().Unix(),
	))
}

const getJob = `-- name: GetJob :one
SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

func (q *Queries) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, getJob, id))
	return j, notFound(err)
}

const getActiveJob = `-- name: GetActiveJob :one
SELECT ` + jobColumns + ` FROM jobs
WHERE user_id = ? AND kind = ? AND state IN ('pending', 'running')
ORDER BY created_at
LIMIT 1`

// GetActiveJob returns the oldest pending or running job of kind for the user.
func (q *Queries) GetActiveJob(ctx context.Context, userID int64, kind string) (Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, getActiveJob, userID, kind))
	return j, notFound(err)
}

const getLatestJob = `-- name: GetLatestJob :one
SELECT ` + jobColumns + ` FROM jobs
WHERE user_id = ? AND kind = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1`

func (q *Queries) GetLatestJob(ctx context.Context, userID int64, kind string) (Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, getLatestJob, userID, kind))
	return j, notFound(err)
}

const claimNextJob = `-- name: ClaimNextJob :one
UPDATE jobs
SET state = 'running', attempts = attempts + 1, started_at = ?1, last_error = ''
WHERE id = (
    SELECT id FROM jobs
    WHERE state = 'pending' AND run_at <= ?1
    ORDER BY run_at, created_at, rowid
    LIMIT 1
)
RETURNING ` + jobColumns

// ClaimNextJob moves the next due pending job to running and returns it.
// ErrNotFound means nothing is due.
func (q *Queries) ClaimNextJob(ctx context.Context, now int64) (Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, claimNextJob, now))
	return j, notFound(err)
}

const updateJobProgress = `-- name: UpdateJobProgress :exec
UPDATE jobs SET pages_fetched = ?, activities_saved = ? WHERE id = ?`

func (q *Queries) UpdateJobProgress(ctx context.Context, id string, pages, saved int64) error {
	_, err := q.db.ExecContext(ctx, updateJobProgress, pages, saved, id)
	return err
}

const finishJob = `-- name: FinishJob :exec
UPDATE jobs SET state = ?, last_error = ?, finished_at = ? WHERE id = ?`

func (q *Queries) FinishJob(ctx context.Context, id, state, lastError string) error {
	_, err := q.db.ExecContext(ctx, finishJob, state, lastError, time.Now().Unix(), id)
	return err
}

const retryJob = `-- name: RetryJob :exec
UPDATE jobs SET state = 'pending', last_error = ?, run_at = ? WHERE id = ?`

// RetryJob puts a running job back in the queue to run again at runAt.
func (q *Queries) RetryJob(ctx context.Context, id string, runAt int64, lastError string) error {
	_, err := q.db.ExecContext(ctx, retryJob, lastError, runAt, id)
	return err
}

const deferJob = `-- name: DeferJob :exec
UPDATE jobs SET state = 'pending', last_error = ?, run_at = ?, attempts = MAX(attempts - 1, 0) WHERE id = ?`

// DeferJob is RetryJob for a pause the job asked for; the attempt is not counted.
func (q *Queries) DeferJob(ctx context.Context, id string, runAt int64, lastError string) error {
	_, err := q.db.ExecContext(ctx, deferJob, lastError, runAt, id)
	return err
}

const requeueRunningJobs = `-- name: RequeueRunningJobs :execrows
UPDATE jobs SET state = 'pending' WHERE state = 'running'`

// RequeueRunningJobs returns jobs orphaned by a previous process to the queue.
func (q *Queries) RequeueRunningJobs(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, requeueRunningJobs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countJobsByState = `-- name: CountJobsByState :many
SELECT state, COUNT(*) FROM jobs GROUP BY state`

func (q *Queries) CountJobsByState(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, countJobsByState)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

const acquireLease = `-- name: AcquireLease :execrows
INSERT INTO sync_leases (user_id, holder, expires_at)
VALUES (?1, ?2, ?3)
ON CONFLICT (user_id) DO UPDATE SET
    holder = excluded.holder,
    expires_at = excluded.expires_at
WHERE sync_leases.expires_at <= ?4 OR sync_leases.holder = excluded.holder`

// AcquireLease takes (or renews) the user's sync lease for holder. It reports
// false when another holder owns an unexpired lease.
func (q *Queries) AcquireLease(ctx context.Context, userID int64, holder string, now, expiresAt int64) (bool, error) {
	result, err := q.db.ExecContext(ctx, acquireLease, userID, holder, expiresAt, now)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const releaseLease = `-- name: ReleaseLease :exec
DELETE FROM sync_leases WHERE user_id = ? AND holder = ?`

func (q *Queries) ReleaseLease(ctx context.Context, userID int64, holder string) error {
	_, err := q.db.ExecContext(ctx, releaseLease, userID, holder)
	return err
}
