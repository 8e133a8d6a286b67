// Package sync downloads a user's activities and stores them in normalized form.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/palette"
	"github.com/joshdurbin/fitnerd/internal/strava"
)

// TokenProvider returns a valid access token for a user, refreshing if needed.
type TokenProvider interface {
	AccessToken(ctx context.Context, userID int64) (string, error)
}

// Progress is reported after every page is stored.
type Progress struct {
	Pages           int64
	ActivitiesSaved int64
}

// ProgressFunc receives running totals. Returning an error aborts the sync.
type ProgressFunc func(Progress) error

// Result summarizes a finished run.
type Result struct {
	Pages           int64
	ActivitiesSaved int64
	Duration        time.Duration
}

// ErrRateLimitNear stops a download while the rate limit still has headroom
// for interactive requests.
var ErrRateLimitNear = errors.New("approaching strava rate limit")

// PauseError asks the caller to resume the download after Wait. Pages
// stored before the pause stay stored.
type PauseError struct {
	Wait time.Duration
	Err  error
}

func (e *PauseError) Error() string {
	return fmt.Sprintf("sync paused for %s: %v", e.Wait.Round(time.Second), e.Err)
}

func (e *PauseError) Unwrap() error { return e.Err }

// Synchronizer pulls activities for one user at a time.
type Synchronizer struct {
	sqlDB  *sql.DB
	client *strava.Client
	tokens TokenProvider
}

func NewSynchronizer(sqlDB *sql.DB, client *strava.Client, tokens TokenProvider) *Synchronizer {
	return &Synchronizer{
		sqlDB:  sqlDB,
		client: client,
		tokens: tokens,
	}
}

// Run downloads every activity that started after the cutoff (all of them
// for a zero cutoff). Each page is committed as it arrives, so pages saved
// before a failure stay saved. On success the user's initial download is
// marked complete and the color palette is recomputed.
func (s *Synchronizer) Run(ctx context.Context, userID int64, after time.Time, progress ProgressFunc) (Result, error) {
	log := logging.ForUser(userID)
	start := time.Now()

	// Fail before the first request when the credential cannot be made valid.
	if _, err := s.tokens.AccessToken(ctx, userID); err != nil {
		return Result{}, fmt.Errorf("checking access token: %w", err)
	}

	tokens := func(ctx context.Context) (string, error) {
		return s.tokens.AccessToken(ctx, userID)
	}

	var res Result
	_, err := s.client.FetchActivities(ctx, tokens, after, func(page strava.FetchResult) error {
		res.Pages++
		if len(page.Activities) > 0 {
			if err := s.savePage(ctx, userID, page.Activities); err != nil {
				return fmt.Errorf("saving page %d: %w", page.Page, err)
			}
			res.ActivitiesSaved += int64(len(page.Activities))
		}

		log.Debug().
			Int("page", page.Page).
			Int("activities", len(page.Activities)).
			Int64("saved", res.ActivitiesSaved).
			Int("15min_usage", page.RateLimit.Usage15Min).
			Msg("page synced")

		if progress != nil {
			if err := progress(Progress{Pages: res.Pages, ActivitiesSaved: res.ActivitiesSaved}); err != nil {
				return err
			}
		}
		// An empty page ends the download, so there is no next request to hold back.
		if len(page.Activities) > 0 && page.RateLimit.RecommendedWait > 0 {
			return &PauseError{Wait: page.RateLimit.RecommendedWait, Err: ErrRateLimitNear}
		}
		return nil
	})
	res.Duration = time.Since(start)
	if errors.Is(err, strava.ErrRateLimited) {
		if wait := s.client.GetRateLimit().RecommendedWait; wait > 0 {
			err = &PauseError{Wait: wait, Err: err}
		}
	}
	if err != nil {
		var pause *PauseError
		if errors.As(err, &pause) {
			log.Info().
				Int64("pages", res.Pages).
				Dur("resume_in", pause.Wait).
				Msg("sync paused for rate limit")
		}
		return res, err
	}

	queries := db.New(s.sqlDB)
	if err := queries.SetInitialDownloadDone(ctx, userID, true); err != nil {
		return res, fmt.Errorf("marking initial download: %w", err)
	}
	if err := RecomputePalette(ctx, queries, userID); err != nil {
		return res, err
	}

	log.Info().
		Int64("pages", res.Pages).
		Int64("activities", res.ActivitiesSaved).
		Dur("took", res.Duration).
		Msg("sync complete")
	return res, nil
}

func (s *Synchronizer) savePage(ctx context.Context, userID int64, activities []strava.Activity) error {
	return db.Tx(ctx, s.sqlDB, func(q *db.Queries) error {
		for _, a := range activities {
			if err := q.UpsertActivity(ctx, Normalize(userID, a)); err != nil {
				return fmt.Errorf("saving activity %d (%s): %w", a.ID, a.Name, err)
			}
		}
		return nil
	})
}

// RecomputePalette reassigns chart colors from the user's current type list.
func RecomputePalette(ctx context.Context, queries *db.Queries, userID int64) error {
	types, err := queries.ListSportTypes(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing activity types: %w", err)
	}
	b, err := json.Marshal(palette.Assign(types))
	if err != nil {
		return fmt.Errorf("encoding palette: %w", err)
	}
	if err := queries.SetColorPalette(ctx, userID, string(b)); err != nil {
		return fmt.Errorf("saving palette: %w", err)
	}
	return nil
}
