package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joshdurbin/fitnerd/internal/apperror"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/palette"
	"github.com/joshdurbin/fitnerd/internal/stats"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/joshdurbin/fitnerd/internal/workers"
)

type userView struct {
	ID                  int64             `json:"id"`
	Username            string            `json:"username"`
	AthleteID           int64             `json:"athlete_id,omitempty"`
	PreferredUnits      string            `json:"preferred_units"`
	Verified            bool              `json:"verified"`
	InitialDownloadDone bool              `json:"initial_download_done"`
	ColorPalette        map[string]string `json:"color_palette"`
}

func newUserView(u db.User) userView {
	return userView{
		ID:                  u.ID,
		Username:            u.Username,
		AthleteID:           u.AthleteID.Int64,
		PreferredUnits:      u.PreferredUnits,
		Verified:            u.IsVerified,
		InitialDownloadDone: u.InitialDownloadDone,
		ColorPalette:        palette.Decode(u.ColorPalette),
	}
}

type jobView struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	State           string     `json:"state"`
	Attempts        int64      `json:"attempts"`
	MaxAttempts     int64      `json:"max_attempts"`
	PagesFetched    int64      `json:"pages_fetched"`
	ActivitiesSaved int64      `json:"activities_saved"`
	LastError       string     `json:"last_error,omitempty"`
	RunAt           time.Time  `json:"run_at"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

func newJobView(j db.Job) jobView {
	v := jobView{
		ID:              j.ID,
		Kind:            j.Kind,
		State:           j.State,
		Attempts:        j.Attempts,
		MaxAttempts:     j.MaxAttempts,
		PagesFetched:    j.PagesFetched,
		ActivitiesSaved: j.ActivitiesSaved,
		LastError:       j.LastError,
		RunAt:           time.Unix(j.RunAt, 0).UTC(),
		CreatedAt:       time.Unix(j.CreatedAt, 0).UTC(),
	}
	if j.StartedAt.Valid {
		t := time.Unix(j.StartedAt.Int64, 0).UTC()
		v.StartedAt = &t
	}
	if j.FinishedAt.Valid {
		t := time.Unix(j.FinishedAt.Int64, 0).UTC()
		v.FinishedAt = &t
	}
	return v
}

type activityView struct {
	ActivityID     int64     `json:"activity_id"`
	Name           string    `json:"name"`
	SportType      string    `json:"sport_type"`
	StartDateLocal time.Time `json:"start_date_local"`
	DistanceMiles  float64   `json:"distance_miles"`
	DistanceKm     float64   `json:"distance_km"`
	ElevGainFt     float64   `json:"elev_gain_ft"`
	ElevGainM      float64   `json:"elev_gain_m"`
	MovingTimeMin  float64   `json:"moving_time_min"`
}

func newActivityView(a db.Activity) activityView {
	return activityView{
		ActivityID:     a.ActivityID,
		Name:           a.Name,
		SportType:      a.SportType,
		StartDateLocal: a.StartDateLocal,
		DistanceMiles:  a.DistanceMiles,
		DistanceKm:     a.DistanceKm,
		ElevGainFt:     a.ElevGainFt,
		ElevGainM:      a.TotalElevationGainM,
		MovingTimeMin:  a.MovingTimeMin,
	}
}

// loadUser resolves the {userID} path parameter.
func (a *API) loadUser(r *http.Request) (db.User, error) {
	id, err := pathID(r, "userID")
	if err != nil {
		return db.User{}, err
	}
	user, err := a.queries.GetUser(r.Context(), id)
	if err != nil {
		return db.User{}, notFoundAs(err, "user", id)
	}
	return user, nil
}

type userResponse struct {
	User      userView       `json:"user"`
	Types     []string       `json:"types"`
	Recent    []activityView `json:"recent_activities"`
	LatestJob *jobView       `json:"latest_job,omitempty"`
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()

	types, err := a.queries.ListSportTypes(ctx, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recent, err := a.queries.ListRecentActivities(ctx, user.ID, recentLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := userResponse{
		User:   newUserView(user),
		Types:  append([]string{}, types...),
		Recent: make([]activityView, 0, len(recent)),
	}
	for _, act := range recent {
		resp.Recent = append(resp.Recent, newActivityView(act))
	}
	job, err := a.queries.GetLatestJob(ctx, user.ID, workers.KindSync)
	switch {
	case err == nil:
		v := newJobView(job)
		resp.LatestJob = &v
	case !errors.Is(err, db.ErrNotFound):
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncResponse struct {
	Job     jobView `json:"job"`
	Created bool    `json:"created"`
}

// handleSync queues a download for the user. A full download runs until the
// first one completes; afterwards only newer activities are fetched.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !user.IsVerified {
		writeError(w, r, apperror.Forbidden("user has not connected a Strava account"))
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

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, syncResponse{Job: newJobView(job), Created: created})
}

// handleDeleteActivities wipes the user's stored activities. It is refused
// while a sync is queued or running, since that would repopulate them.
func (a *API) handleDeleteActivities(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	active, err := a.queries.GetActiveJob(r.Context(), user.ID, workers.KindSync)
	if err == nil {
		writeError(w, r, apperror.Conflict(fmt.Sprintf("sync job %s is %s", active.ID, active.State)))
		return
	}
	if !errors.Is(err, db.ErrNotFound) {
		writeError(w, r, err)
		return
	}

	n, err := fitsync.RemoveUserData(r.Context(), a.sqlDB, user.ID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (a *API) handleToggleUnits(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	units := stats.Metric
	if user.PreferredUnits == stats.Metric {
		units = stats.Imperial
	}
	a.saveUnits(w, r, user, units)
}

type unitsRequest struct {
	Units string `json:"units"`
}

func (a *API) handleSetUnits(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req unitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if !stats.ValidUnits(req.Units) {
		writeError(w, r, apperror.ValidationFailed("units", `units must be "imperial" or "metric"`))
		return
	}
	a.saveUnits(w, r, user, req.Units)
}

func (a *API) saveUnits(w http.ResponseWriter, r *http.Request, user db.User, units string) {
	if err := a.queries.SetPreferredUnits(r.Context(), user.ID, units); err != nil {
		writeError(w, r, err)
		return
	}
	logging.ForUser(user.ID).Info().Str("from", user.PreferredUnits).Str("to", units).Msg("preferred units changed")
	user.PreferredUnits = units
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := a.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, notFoundAs(err, "job", id))
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}
