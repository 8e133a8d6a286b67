package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/joshdurbin/fitnerd/internal/apperror"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/palette"
	"github.com/joshdurbin/fitnerd/internal/stats"
)

type summaryResponse struct {
	Type    string        `json:"type,omitempty"`
	Start   string        `json:"start,omitempty"`
	End     string        `json:"end,omitempty"`
	Units   string        `json:"preferred_units"`
	Summary stats.Summary `json:"summary"`
}

// handleSummary summarizes the user's activities, optionally narrowed to one
// type and an inclusive local date range.
func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	from, until, err := stats.ParseDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, r, apperror.ValidationFailed("start", err.Error()))
		return
	}

	params := db.ListActivitiesParams{UserID: user.ID, From: from, Until: until}
	if t := q.Get("type"); t != "" {
		params.SportTypes = []string{t}
	}
	acts, err := a.queries.ListActivities(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Type:    q.Get("type"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Units:   user.PreferredUnits,
		Summary: stats.Summarize(acts),
	})
}

func (a *API) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actType := chi.URLParam(r, "type")
	acts, err := a.queries.ListActivities(r.Context(), db.ListActivitiesParams{
		UserID:     user.ID,
		SportTypes: []string{actType},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Analyze(actType, user.PreferredUnits, acts))
}

func (a *API) handleChart(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actType, metric, span := chi.URLParam(r, "type"), chi.URLParam(r, "metric"), chi.URLParam(r, "span")
	if !stats.ValidMetric(metric) {
		writeError(w, r, apperror.ValidationFailed("metric", "metric must be distance, moving_time or elevation_gain"))
		return
	}

	acts, err := a.queries.ListActivities(r.Context(), db.ListActivitiesParams{
		UserID:     user.ID,
		SportTypes: []string{actType},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	color := palette.Decode(user.ColorPalette)[actType]
	chart, err := stats.Chart(actType, metric, span, user.PreferredUnits, color, acts)
	switch {
	case errors.Is(err, stats.ErrUnknownSpan):
		writeError(w, r, apperror.ValidationFailed("span", "span must be monthly or annual"))
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (a *API) handlePie(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acts, err := a.queries.ListActivities(r.Context(), db.ListActivitiesParams{UserID: user.ID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Pie(acts, palette.Decode(user.ColorPalette)))
}

type searchResponse struct {
	Units   string               `json:"units"`
	Results []stats.SearchResult `json:"results"`
}

// handleSearch finds activities resembling the query parameters. Distance
// and elevation are read in the user's preferred units.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	user, err := a.loadUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query, err := parseSearch(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	query.Units = user.PreferredUnits

	acts, err := a.queries.ListActivities(r.Context(), db.ListActivitiesParams{UserID: user.ID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Units:   user.PreferredUnits,
		Results: stats.Search(acts, query),
	})
}

func parseSearch(v url.Values) (stats.Query, error) {
	q := stats.Query{Title: strings.TrimSpace(v.Get("title"))}

	// types may repeat or be comma separated.
	for _, raw := range v["types"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Types = append(q.Types, t)
			}
		}
	}

	numbers := []struct {
		field string
		dst   *float64
	}{
		{"distance", &q.Distance},
		{"elev_gain", &q.ElevGain},
		{"elapsed_min", &q.ElapsedMin},
		{"moving_min", &q.MovingMin},
		{"fudge", &q.Fudge},
	}
	for _, n := range numbers {
		raw := v.Get(n.field)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return stats.Query{}, apperror.ValidationFailed(n.field, n.field+" must be a non-negative number")
		}
		*n.dst = f
	}
	if q.Fudge > 1 {
		return stats.Query{}, apperror.ValidationFailed("fudge", "fudge must be between 0 and 1")
	}

	var err error
	if q.Start, err = stats.ParseDate(v.Get("start")); err != nil {
		return stats.Query{}, apperror.ValidationFailed("start", err.Error())
	}
	if q.End, err = stats.ParseDate(v.Get("end")); err != nil {
		return stats.Query{}, apperror.ValidationFailed("end", err.Error())
	}
	return q, nil
}
