// Package webhook applies push events from Strava to the local store.
package webhook

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/strava"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/sethvargo/go-retry"
)

const (
	// ServiceName keys the stored subscription.
	ServiceName = "strava"

	// CreateAttempts bounds how often a freshly created activity is fetched
	// while Strava still returns it without an id.
	CreateAttempts = 10
	// DefaultCreateDelay is the wait between those fetches.
	DefaultCreateDelay = 6 * time.Second
)

var (
	// ErrUnknownOwner means no local user is linked to the event's athlete.
	ErrUnknownOwner = errors.New("webhook: unknown owner")
	// ErrActivityNotFound means an update or delete named an activity we
	// never stored. Events are not turned into a fetch-and-create.
	ErrActivityNotFound = errors.New("webhook: activity not found")
	// ErrIncompleteActivity means the created activity still had no id after
	// every attempt.
	ErrIncompleteActivity = errors.New("webhook: activity incomplete")
)

// Object and aspect types sent by Strava.
const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// Event is the body of a webhook POST.
type Event struct {
	SubscriptionID int64          `json:"subscription_id"`
	ObjectType     string         `json:"object_type"`
	AspectType     string         `json:"aspect_type"`
	ObjectID       int64          `json:"object_id"`
	OwnerID        int64          `json:"owner_id"`
	EventTime      int64          `json:"event_time,omitempty"`
	Updates        map[string]any `json:"updates,omitempty"`
}

// Update returns updates[key] as a string. Strava sends every value as a
// string, but booleans are tolerated.
func (e Event) Update(key string) (string, bool) {
	v, ok := e.Updates[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

// IsDataError reports whether err means the event can never be applied and
// should be dropped rather than retried.
func IsDataError(err error) bool {
	return errors.Is(err, ErrUnknownOwner) ||
		errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrIncompleteActivity)
}

// VerifyChallenge answers the subscription handshake: the challenge is echoed
// only for a subscribe request carrying our verify token.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// TokenProvider returns a valid access token for a user.
type TokenProvider interface {
	AccessToken(ctx context.Context, userID int64) (string, error)
}

// Handler applies events to the store.
type Handler struct {
	sqlDB       *sql.DB
	queries     *db.Queries
	client      *strava.Client
	tokens      TokenProvider
	createDelay time.Duration
}

func NewHandler(sqlDB *sql.DB, client *strava.Client, tokens TokenProvider) *Handler {
	return &Handler{
		sqlDB:       sqlDB,
		queries:     db.New(sqlDB),
		client:      client,
		tokens:      tokens,
		createDelay: DefaultCreateDelay,
	}
}

// WithCreateDelay sets the wait between fetches of a new activity.
func (h *Handler) WithCreateDelay(d time.Duration) *Handler {
	h.createDelay = d
	return h
}

// Handle applies one event. Errors matching IsDataError are final for the
// event; anything else may succeed on a later attempt.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	user, err := h.queries.GetUserByAthleteID(ctx, ev.OwnerID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: athlete %d", ErrUnknownOwner, ev.OwnerID)
	}
	if err != nil {
		return fmt.Errorf("resolving owner: %w", err)
	}

	log := logging.ForUser(user.ID).With().
		Str("object_type", ev.ObjectType).
		Str("aspect_type", ev.AspectType).
		Int64("object_id", ev.ObjectID).
		Logger()
	log.Debug().Interface("updates", ev.Updates).Msg("handling webhook event")

	switch {
	case ev.ObjectType == ObjectActivity && ev.AspectType == AspectCreate:
		return h.create(ctx, user.ID, ev.ObjectID)
	case ev.ObjectType == ObjectActivity && ev.AspectType == AspectUpdate:
		return h.update(ctx, user.ID, ev)
	case ev.ObjectType == ObjectActivity && ev.AspectType == AspectDelete:
		return h.delete(ctx, user.ID, ev.ObjectID)
	case ev.ObjectType == ObjectAthlete && ev.AspectType == AspectUpdate:
		if v, ok := ev.Update("authorized"); ok && v == "false" {
			_, err := fitsync.RemoveUserData(ctx, h.sqlDB, user.ID, true)
			return err
		}
		log.Debug().Msg("athlete update ignored")
		return nil
	default:
		log.Warn().Msg("unsupported webhook event ignored")
		return nil
	}
}

// create fetches the new activity, retrying with a fixed delay while Strava
// has not finished processing it.
func (h *Handler) create(ctx context.Context, userID, activityID int64) error {
	tokens := func(ctx context.Context) (string, error) {
		return h.tokens.AccessToken(ctx, userID)
	}

	var act *strava.Activity
	attempt := 0
	backoff := retry.WithMaxRetries(CreateAttempts-1, retry.NewConstant(h.createDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		a, err := h.client.GetActivity(ctx, tokens, activityID)
		if errors.Is(err, strava.ErrNotFound) || (err == nil && !a.Complete()) {
			logging.ForUser(userID).Debug().
				Int64("activity_id", activityID).
				Int("attempt", attempt).
				Msg("activity not ready yet")
			return retry.RetryableError(ErrIncompleteActivity)
		}
		if err != nil {
			return err
		}
		act = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIncompleteActivity) {
			return fmt.Errorf("%w: %d after %d attempts", ErrIncompleteActivity, activityID, attempt)
		}
		return fmt.Errorf("fetching activity %d: %w", activityID, err)
	}

	if err := h.queries.UpsertActivity(ctx, fitsync.Normalize(userID, *act)); err != nil {
		return fmt.Errorf("saving activity %d: %w", activityID, err)
	}
	if err := fitsync.RecomputePalette(ctx, h.queries, userID); err != nil {
		return err
	}
	logging.ForUser(userID).Info().Int64("activity_id", activityID).Str("name", act.Name).Msg("activity created from webhook")
	return nil
}

func (h *Handler) update(ctx context.Context, userID int64, ev Event) error {
	params := db.UpdateActivityNameTypeParams{UserID: userID, ActivityID: ev.ObjectID}
	if title, ok := ev.Update("title"); ok {
		params.Name = &title
	}
	typeChanged := false
	if t, ok := ev.Update("type"); ok {
		params.Type = &t
		params.SportType = &t
		typeChanged = true
	}

	n, err := h.queries.UpdateActivityNameType(ctx, params)
	if err != nil {
		return fmt.Errorf("updating activity %d: %w", ev.ObjectID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrActivityNotFound, ev.ObjectID)
	}
	if typeChanged {
		return fitsync.RecomputePalette(ctx, h.queries, userID)
	}
	return nil
}

func (h *Handler) delete(ctx context.Context, userID, activityID int64) error {
	n, err := h.queries.DeleteActivity(ctx, userID, activityID)
	if err != nil {
		return fmt.Errorf("deleting activity %d: %w", activityID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrActivityNotFound, activityID)
	}
	return nil
}
