package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/strava"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/joshdurbin/fitnerd/internal/webhook"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// Job outcomes reported to the Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
	OutcomeDeferred  = "deferred"
)

// Syncer runs one user's download.
type Syncer interface {
	Run(ctx context.Context, userID int64, after time.Time, progress fitsync.ProgressFunc) (fitsync.Result, error)
}

// EventHandler applies one webhook event.
type EventHandler interface {
	Handle(ctx context.Context, ev webhook.Event) error
}

// Observer is told about every job attempt.
type Observer interface {
	JobFinished(kind, outcome string, took time.Duration)
	ActivitiesSaved(n int64)
	QueueDepth(counts map[string]int64)
}

type nopObserver struct{}

func (nopObserver) JobFinished(string, string, time.Duration) {}
func (nopObserver) ActivitiesSaved(int64)                     {}
func (nopObserver) QueueDepth(map[string]int64)               {}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers int
	// LeaseTTL bounds how long a crashed worker can block a user's next sync.
	LeaseTTL time.Duration
	// LeaseRetry is how long a sync waits when another job holds the lease.
	LeaseRetry time.Duration
	// PollInterval is the fallback when no wake-up arrives.
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		LeaseTTL:     30 * time.Minute,
		LeaseRetry:   10 * time.Second,
		PollInterval: 5 * time.Second,
		BackoffBase:  30 * time.Second,
		BackoffMax:   30 * time.Minute,
	}
}

// Pool claims due jobs from the queue and runs them.
type Pool struct {
	queue    *Queue
	syncer   Syncer
	events   EventHandler
	cfg      PoolConfig
	observer Observer
}

func NewPool(queue *Queue, syncer Syncer, events EventHandler, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pool{
		queue:    queue,
		syncer:   syncer,
		events:   events,
		cfg:      cfg,
		observer: nopObserver{},
	}
}

// WithObserver registers o for job metrics.
func (p *Pool) WithObserver(o Observer) *Pool {
	if o != nil {
		p.observer = o
	}
	return p
}

// Run requeues jobs left running by a previous process, then works the queue
// until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.Logger
	requeued, err := p.queue.queries.RequeueRunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("requeueing orphaned jobs: %w", err)
	}
	log.Info().Int("workers", p.cfg.Workers).Int64("requeued", requeued).Msg("job workers started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	err = g.Wait()
	log.Info().Msg("job workers stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping.
		for {
			ran, err := p.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				logging.Logger.Error().Err(err).Int("worker", worker).Msg("job loop error")
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}

		if counts, err := p.queue.Counts(ctx); err == nil {
			p.observer.QueueDepth(counts)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.queue.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce claims and runs the next due job. It reports false when nothing
// was due.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.queries.ClaimNextJob(ctx, p.queue.now().Unix())
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}

	start := time.Now()
	runErr := p.execute(ctx, job)
	outcome, err := p.settle(ctx, job, runErr)
	p.observer.JobFinished(job.Kind, outcome, time.Since(start))
	return true, err
}

func (p *Pool) execute(ctx context.Context, job db.Job) error {
	switch job.Kind {
	case KindSync:
		return p.runSync(ctx, job)
	case KindWebhook:
		var ev webhook.Event
		if err := json.Unmarshal([]byte(job.Payload), &ev); err != nil {
			return permanent(fmt.Errorf("decoding webhook event: %w", err))
		}
		return p.events.Handle(ctx, ev)
	default:
		return permanent(fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

var errLeaseHeld = errors.New("sync lease held by another job")

func (p *Pool) runSync(ctx context.Context, job db.Job) error {
	var payload SyncPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return permanent(fmt.Errorf("decoding sync payload: %w", err))
	}

	if err := p.takeLease(ctx, job); err != nil {
		return err
	}
	defer func() {
		// The lease must go even when ctx is already cancelled.
		if err := p.queue.queries.ReleaseLease(context.Background(), job.UserID, job.ID); err != nil {
			logging.ForUser(job.UserID).Warn().Err(err).Str("job_id", job.ID).Msg("failed to release sync lease")
		}
	}()

	var after time.Time
	if payload.After > 0 {
		after = time.Unix(payload.After, 0)
	}
	res, err := p.syncer.Run(ctx, job.UserID, after, func(pr fitsync.Progress) error {
		if err := p.queue.queries.UpdateJobProgress(ctx, job.ID, pr.Pages, pr.ActivitiesSaved); err != nil {
			return fmt.Errorf("recording progress: %w", err)
		}
		// Renew so a long download keeps the lease.
		return p.takeLease(ctx, job)
	})
	p.observer.ActivitiesSaved(res.ActivitiesSaved)
	return err
}

func (p *Pool) takeLease(ctx context.Context, job db.Job) error {
	now := p.queue.now()
	ok, err := p.queue.queries.AcquireLease(ctx, job.UserID, job.ID, now.Unix(), now.Add(p.cfg.LeaseTTL).Unix())
	if err != nil {
		return fmt.Errorf("acquiring sync lease: %w", err)
	}
	if !ok {
		return errLeaseHeld
	}
	return nil
}

// settle records the result of one attempt and returns the outcome.
func (p *Pool) settle(ctx context.Context, job db.Job, runErr error) (string, error) {
	// Writing the result must not depend on the run's context.
	ctx = context.WithoutCancel(ctx)
	log := logging.Logger.With().Str("job_id", job.ID).Str("kind", job.Kind).Int64("user_id", job.UserID).Int64("attempt", job.Attempts).Logger()
	q := p.queue.queries
	now := p.queue.now()
	var pause *fitsync.PauseError

	switch {
	case runErr == nil:
		log.Info().Msg("job succeeded")
		return OutcomeSucceeded, q.FinishJob(ctx, job.ID, db.JobStateSucceeded, "")

	case errors.Is(runErr, errLeaseHeld):
		log.Debug().Msg("user sync in progress elsewhere, deferring")
		return OutcomeDeferred, q.RetryJob(ctx, job.ID, now.Add(p.cfg.LeaseRetry).Unix(), runErr.Error())

	case errors.As(runErr, &pause):
		log.Info().Dur("resume_in", pause.Wait).Msg("sync paused for rate limit, deferring")
		return OutcomeDeferred, q.DeferJob(ctx, job.ID, now.Add(pause.Wait).Unix(), runErr.Error())

	case errors.Is(runErr, context.Canceled):
		log.Info().Msg("job interrupted by shutdown, requeued")
		return OutcomeDeferred, q.RetryJob(ctx, job.ID, now.Unix(), runErr.Error())

	case webhook.IsDataError(runErr):
		log.Warn().Err(runErr).Msg("webhook event dropped")
		return OutcomeFailed, q.FinishJob(ctx, job.ID, db.JobStateFailed, runErr.Error())

	case !Retryable(runErr) || job.Attempts >= job.MaxAttempts:
		log.Error().Err(runErr).Msg("job failed")
		return OutcomeFailed, q.FinishJob(ctx, job.ID, db.JobStateFailed, runErr.Error())

	default:
		delay := backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffMax, job.Attempts)
		log.Warn().Err(runErr).Dur("retry_in", delay).Msg("job failed, will retry")
		return OutcomeRetried, q.RetryJob(ctx, job.ID, now.Add(delay).Unix(), runErr.Error())
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return permanentError{err: err} }

// Retryable reports whether a failed job may succeed on a later attempt:
// transport failures, rate limiting and server errors. Rejected credentials,
// client errors and malformed jobs are final.
func Retryable(err error) bool {
	var (
		perm     permanentError
		status   *strava.StatusError
		retrieve *oauth2.RetrieveError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &perm),
		webhook.IsDataError(err),
		errors.Is(err, auth.ErrNoCredential),
		errors.Is(err, strava.ErrUnauthorized),
		errors.Is(err, strava.ErrNotFound):
		return false
	case errors.As(err, &retrieve):
		return retrieve.Response != nil && retrieve.Response.StatusCode >= 500
	case errors.As(err, &status):
		return status.StatusCode == 429 || status.StatusCode >= 500
	}
	// Rate limiting, timeouts and connection errors.
	return true
}

// backoffDelay is the exponential wait before the given attempt number runs
// again: base, 2*base, 4*base... capped at max.
func backoffDelay(base, max time.Duration, attempt int64) time.Duration {
	b := retry.WithCappedDuration(max, retry.NewExponential(base))
	var d time.Duration
	for i := int64(0); i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}
