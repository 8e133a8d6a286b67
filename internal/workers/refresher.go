package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"golang.org/x/oauth2"
)

// DefaultRefreshWindow is how close to expiry a credential gets refreshed.
const DefaultRefreshWindow = 10 * time.Minute

// ForceRefresher refreshes one user's stored credential.
type ForceRefresher interface {
	ForceRefresh(ctx context.Context, userID int64) (*auth.TokenResponse, error)
}

// TokenRefresher keeps every user's credential ahead of its expiry so that
// requests rarely pay for a refresh.
type TokenRefresher struct {
	queries  *db.Queries
	tokens   ForceRefresher
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

// NewTokenRefresher creates a new token refresher worker
func NewTokenRefresher(queries *db.Queries, tokens ForceRefresher, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		queries:  queries,
		tokens:   tokens,
		interval: interval,
		window:   DefaultRefreshWindow,
		now:      time.Now,
	}
}

// Run starts the token refresh worker
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", t.interval).Dur("window", t.window).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Do an initial check
	t.CheckAndRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.CheckAndRefresh(ctx)
		}
	}
}

// CheckAndRefresh refreshes every credential expiring within the window and
// returns how many were refreshed. Failures are logged per user and do not
// stop the others.
func (t *TokenRefresher) CheckAndRefresh(ctx context.Context) int {
	log := logging.Logger
	deadline := t.now().Add(t.window)

	creds, err := t.queries.ListCredentialsExpiringBefore(ctx, deadline.Unix())
	if err != nil {
		log.Error().Err(err).Msg("failed to list expiring credentials")
		return 0
	}
	if len(creds) == 0 {
		log.Debug().Msg("no credentials expiring soon")
		return 0
	}

	refreshed := 0
	for _, c := range creds {
		if ctx.Err() != nil {
			break
		}
		userLog := logging.ForUser(c.UserID)
		expiresIn := time.Unix(c.ExpiresAt, 0).Sub(t.now())

		tokens, err := t.tokens.ForceRefresh(ctx, c.UserID)
		if grantRevoked(err) {
			// Revoked upstream without a deauthorization event. Drop the
			// credential so it is not retried every pass; the user reconnects.
			if rerr := t.revoke(ctx, c.UserID); rerr != nil {
				userLog.Error().Err(rerr).Msg("failed to drop revoked credential")
				continue
			}
			userLog.Warn().Err(err).Msg("refresh token rejected, credential dropped")
			continue
		}
		if err != nil {
			userLog.Error().Err(err).Dur("expires_in", expiresIn.Round(time.Second)).Msg("failed to refresh token")
			continue
		}
		refreshed++
		userLog.Debug().
			Str("new_expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
			Msg("token refreshed ahead of expiry")
	}

	log.Info().Int("expiring", len(creds)).Int("refreshed", refreshed).Msg("token refresh pass complete")
	return refreshed
}

func (t *TokenRefresher) revoke(ctx context.Context, userID int64) error {
	if err := t.queries.SetVerified(ctx, userID, false); err != nil {
		return fmt.Errorf("clearing verified: %w", err)
	}
	if err := t.queries.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// grantRevoked reports whether the token endpoint rejected the refresh token
// itself, as opposed to failing transiently.
func grantRevoked(err error) bool {
	var retrieve *oauth2.RetrieveError
	if !errors.As(err, &retrieve) || retrieve.Response == nil {
		return false
	}
	code := retrieve.Response.StatusCode
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests
}
