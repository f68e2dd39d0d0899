// Package jobqueue implements a durable priority queue for long-running
// tasks (mass translation, re-segmentation passes, embedding-migration
// runs), backed by the jobs table the catalog store creates.
package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/siftertext/ingestcore/xerrors"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Job is one row of the durable queue.
type Job struct {
	ID              string
	Type            string
	Status          Status
	Priority        int
	Params          string
	DocumentID      string
	ProgressDone    int
	ProgressTotal   int
	LastHeartbeat   time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Error           string
	CancelRequested bool
}

// Queue is the jobs-table-backed durable priority queue.
type Queue struct {
	DB               *sql.DB
	HeartbeatTimeout time.Duration
}

// New wraps an existing database handle (shared with the catalog store's
// schema, since jobs lives alongside documents/content) as a Queue.
func New(db *sql.DB, heartbeatTimeout time.Duration) *Queue {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 2 * time.Minute
	}
	return &Queue{DB: db, HeartbeatTimeout: heartbeatTimeout}
}

// Enqueue inserts a new pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, jobType, params string, priority int, documentID string) (string, error) {
	id := uuid.NewString()
	const query = `
		INSERT INTO jobs (id, type, status, priority, params, document_id, progress_done,
			progress_total, last_heartbeat, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,0,NOW(),NOW())`
	_, err := q.DB.ExecContext(ctx, query, id, jobType, string(StatusPending), priority, params, documentID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return id, nil
}

// Claim atomically selects the highest-priority pending job, marks it
// processing, and returns it. A processing job whose last heartbeat is older
// than HeartbeatTimeout is reclaimable the same way. Returns
// xerrors.ErrNotFound if no job is claimable. workerID is stored in the
// job's worker_id column.
func (q *Queue) Claim(ctx context.Context, workerID string) (Job, error) {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT id FROM jobs
		WHERE status = $1 OR (status = $2 AND last_heartbeat < $3)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`
	reclaimBefore := time.Now().Add(-q.HeartbeatTimeout)

	var id string
	err = tx.QueryRowContext(ctx, selectQuery, string(StatusPending), string(StatusProcessing), reclaimBefore).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, xerrors.ErrNotFound
		}
		return Job{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}

	const updateQuery = `
		UPDATE jobs SET status = $2, worker_id = $3, started_at = COALESCE(started_at, NOW()), last_heartbeat = NOW()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, id, string(StatusProcessing), workerID); err != nil {
		return Job{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}

	job, err := scanJobTx(ctx, tx, id)
	if err != nil {
		return Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return job, nil
}

func scanJobTx(ctx context.Context, tx *sql.Tx, id string) (Job, error) {
	const query = `
		SELECT id, type, status, priority, params, document_id, progress_done, progress_total,
		       last_heartbeat, created_at, started_at, finished_at, error, cancel_requested
		FROM jobs WHERE id = $1`
	var j Job
	var status string
	var startedAt, finishedAt sql.NullTime
	var errMsg sql.NullString
	var documentID sql.NullString
	row := tx.QueryRowContext(ctx, query, id)
	if err := row.Scan(&j.ID, &j.Type, &status, &j.Priority, &j.Params, &documentID,
		&j.ProgressDone, &j.ProgressTotal, &j.LastHeartbeat, &j.CreatedAt, &startedAt, &finishedAt, &errMsg, &j.CancelRequested); err != nil {
		return Job{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	j.DocumentID = documentID.String
	j.Status = Status(status)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	j.Error = errMsg.String
	return j, nil
}

// Heartbeat refreshes a processing job's liveness timestamp, required
// periodically so Claim does not reclaim it as stale mid-flight.
func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	const query = `UPDATE jobs SET last_heartbeat = NOW() WHERE id = $1 AND status = $2`
	_, err := q.DB.ExecContext(ctx, query, jobID, string(StatusProcessing))
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// ReportProgress records (done, total) against a processing job.
func (q *Queue) ReportProgress(ctx context.Context, jobID string, done, total int) error {
	const query = `UPDATE jobs SET progress_done = $2, progress_total = $3, last_heartbeat = NOW() WHERE id = $1`
	_, err := q.DB.ExecContext(ctx, query, jobID, done, total)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// Complete terminates a job with a final status and optional error message.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, jobErr string) error {
	const query = `UPDATE jobs SET status = $2, error = $3, finished_at = NOW() WHERE id = $1`
	_, err := q.DB.ExecContext(ctx, query, jobID, string(status), jobErr)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag a worker polls
// between paragraphs. Implemented as a dedicated column rather than a
// status transition so a running worker can observe it mid-job.
func (q *Queue) RequestCancel(ctx context.Context, jobID string) error {
	const query = `UPDATE jobs SET cancel_requested = TRUE WHERE id = $1`
	_, err := q.DB.ExecContext(ctx, query, jobID)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// IsCancelRequested polls the cooperative cancellation flag.
func (q *Queue) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	const query = `SELECT cancel_requested FROM jobs WHERE id = $1`
	var cancelled bool
	err := q.DB.QueryRowContext(ctx, query, jobID).Scan(&cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, xerrors.ErrNotFound
		}
		return false, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return cancelled, nil
}
