package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/webhook"
)

// Job kinds.
const (
	KindSync    = "sync"
	KindWebhook = "webhook"
)

// DefaultMaxAttempts is how often a job runs before it is marked failed.
const DefaultMaxAttempts = 3

// SyncPayload is stored with sync jobs. A zero After means a full download.
type SyncPayload struct {
	After int64 `json:"after,omitempty"`
}

// Queue persists jobs in the jobs table and wakes the pool when new work
// arrives.
type Queue struct {
	sqlDB       *sql.DB
	queries     *db.Queries
	wake        chan struct{}
	now         func() time.Time
	maxAttempts int64
}

func NewQueue(sqlDB *sql.DB) *Queue {
	return &Queue{
		sqlDB:       sqlDB,
		queries:     db.New(sqlDB),
		wake:        make(chan struct{}, 1),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
}

// EnqueueSync queues a sync for the user unless one is already pending or
// running, in which case that job is returned with created == false.
func (q *Queue) EnqueueSync(ctx context.Context, userID int64, after time.Time) (job db.Job, created bool, err error) {
	payload := SyncPayload{}
	if !after.IsZero() {
		payload.After = after.Unix()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return db.Job{}, false, fmt.Errorf("encoding sync payload: %w", err)
	}

	err = db.Tx(ctx, q.sqlDB, func(tx *db.Queries) error {
		active, err := tx.GetActiveJob(ctx, userID, KindSync)
		if err == nil {
			job = active
			return nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("checking active sync: %w", err)
		}

		job, err = tx.CreateJob(ctx, db.CreateJobParams{
			ID:          uuid.NewString(),
			UserID:      userID,
			Kind:        KindSync,
			Payload:     string(b),
			MaxAttempts: q.maxAttempts,
			RunAt:       q.now().Unix(),
		})
		if err != nil {
			return fmt.Errorf("creating sync job: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return db.Job{}, false, err
	}

	log := logging.ForUser(userID)
	if created {
		log.Info().Str("job_id", job.ID).Time("after", after).Msg("sync queued")
		q.notify()
	} else {
		log.Debug().Str("job_id", job.ID).Str("state", job.State).Msg("sync already queued")
	}
	return job, created, nil
}

// EnqueueWebhook queues an event for the webhook handler. The owner is
// resolved when the job runs.
func (q *Queue) EnqueueWebhook(ctx context.Context, ev webhook.Event) (db.Job, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return db.Job{}, fmt.Errorf("encoding webhook event: %w", err)
	}
	job, err := q.queries.CreateJob(ctx, db.CreateJobParams{
		ID:          uuid.NewString(),
		Kind:        KindWebhook,
		Payload:     string(b),
		MaxAttempts: q.maxAttempts,
		RunAt:       q.now().Unix(),
	})
	if err != nil {
		return db.Job{}, fmt.Errorf("creating webhook job: %w", err)
	}

	logging.Logger.Debug().
		Str("job_id", job.ID).
		Str("object_type", ev.ObjectType).
		Str("aspect_type", ev.AspectType).
		Int64("object_id", ev.ObjectID).
		Msg("webhook event queued")
	q.notify()
	return job, nil
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (db.Job, error) {
	return q.queries.GetJob(ctx, id)
}

// Counts returns the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (map[string]int64, error) {
	return q.queries.CountJobsByState(ctx)
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
