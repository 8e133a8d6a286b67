package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joshdurbin/fitnerd/internal/apperror"
	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
)

// handleConnect sends the browser to the provider's consent page. The
// username rides along as the OAuth state.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, r, apperror.ValidationFailed("username", "username is required"))
		return
	}
	http.Redirect(w, r, auth.AuthCodeURL(a.oauth, username), http.StatusFound)
}

type callbackResponse struct {
	User    userView `json:"user"`
	Job     jobView  `json:"job"`
	Created bool     `json:"created"`
}

// handleCallback completes the connect flow: exchange the code, link the
// athlete to a local user, store the credential and queue a download.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, apperror.Forbidden("authorization was not granted: "+e))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, r, apperror.ValidationFailed("code", "code is required"))
		return
	}

	tokens, athlete, err := auth.Exchange(r.Context(), a.oauth, code)
	if err != nil {
		writeError(w, r, apperror.Upstream("could not complete authorization with Strava", err))
		return
	}

	username := strings.TrimSpace(q.Get("state"))
	if username == "" {
		username = athlete.Username
	}
	if username == "" {
		username = fmt.Sprintf("athlete-%d", athlete.ID)
	}

	user, err := a.queries.UpsertUserByAthlete(r.Context(), db.UpsertUserByAthleteParams{
		Username:  username,
		AthleteID: athlete.ID,
	})
	if err != nil {
		writeError(w, r, fmt.Errorf("saving user: %w", err))
		return
	}
	if err := a.grants.SaveGrant(r.Context(), user.ID, tokens); err != nil {
		writeError(w, r, fmt.Errorf("saving credential: %w", err))
		return
	}

	after, err := a.syncCutoff(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, created, err := a.queue.EnqueueSync(r.Context(), user.ID, after)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.ForUser(user.ID).Info().
		Int64("athlete_id", athlete.ID).
		Str("username", user.Username).
		Bool("initial_download", !user.InitialDownloadDone).
		Msg("athlete connected")
	writeJSON(w, http.StatusOK, callbackResponse{User: newUserView(user), Job: newJobView(job), Created: created})
}

// syncCutoff is the zero time until the initial download has completed,
// after which only activities newer than the latest stored one are fetched.
func (a *API) syncCutoff(ctx context.Context, user db.User) (time.Time, error) {
	if !user.InitialDownloadDone {
		return time.Time{}, nil
	}
	latest, err := a.queries.LatestStartDate(ctx, user.ID)
	if errors.Is(err, db.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("finding latest activity: %w", err)
	}
	return latest, nil
}
