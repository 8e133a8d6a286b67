package stats

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joshdurbin/fitnerd/internal/db"
)

// DefaultFudge is the relative tolerance used when matching numbers: 0.1
// accepts values within 10% either side.
const DefaultFudge = 0.1

// Query describes what a similar activity looks like. Zero numeric fields
// and zero dates are ignored. Distance and ElevGain are in the query's unit
// system: miles and feet for imperial, kilometers and meters for metric.
type Query struct {
	Title      string
	Types      []string
	Distance   float64
	ElevGain   float64
	ElapsedMin float64
	MovingMin  float64
	// Start and End bound the UTC start date, both inclusive.
	Start time.Time
	End   time.Time
	Units string
	// Fudge defaults to DefaultFudge.
	Fudge float64
}

// Empty reports whether the query has no criteria at all.
func (q Query) Empty() bool {
	return q.Title == "" && len(q.Types) == 0 && q.Distance == 0 && q.ElevGain == 0 &&
		q.ElapsedMin == 0 && q.MovingMin == 0 && q.Start.IsZero() && q.End.IsZero()
}

// SearchResult is one matching activity formatted for display.
type SearchResult struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Dist    string    `json:"dist"`
	Elev    string    `json:"elev"`
	Elapsed string    `json:"elapsed"`
	Moving  string    `json:"moving"`
	Date    time.Time `json:"date"`
}

// Search filters acts down to those matching every criterion in q, keeping
// their order. An empty query matches nothing.
func Search(acts []db.Activity, q Query) []SearchResult {
	results := []SearchResult{}
	if q.Empty() {
		return results
	}
	fudge := q.Fudge
	if fudge <= 0 {
		fudge = DefaultFudge
	}
	metric := q.Units == Metric
	title := strings.ToLower(q.Title)

	types := make(map[string]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}

	var startDay, endDay time.Time
	if !q.Start.IsZero() {
		startDay = day(q.Start)
	}
	if !q.End.IsZero() {
		endDay = day(q.End)
	}

	for _, a := range acts {
		if len(types) > 0 && !types[a.SportType] {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(a.Name), title) {
			continue
		}

		dist, elev := a.DistanceMiles, a.ElevGainFt
		if metric {
			dist, elev = a.DistanceKm, a.TotalElevationGainM
		}
		if !near(dist, q.Distance, fudge) || !near(elev, q.ElevGain, fudge) {
			continue
		}
		if !near(a.ElapsedTimeMin, q.ElapsedMin, fudge) || !near(a.MovingTimeMin, q.MovingMin, fudge) {
			continue
		}

		d := day(a.StartDate)
		if !startDay.IsZero() && d.Before(startDay) {
			continue
		}
		if !endDay.IsZero() && d.After(endDay) {
			continue
		}

		r := SearchResult{
			ID:      a.ActivityID,
			Name:    a.Name,
			Dist:    formatDecimal(dist) + " miles",
			Elev:    formatDecimal(elev) + " feet",
			Elapsed: humanize.Comma(int64(a.ElapsedTimeMin)),
			Moving:  humanize.Comma(int64(a.MovingTimeMin)),
			Date:    a.StartDate,
		}
		if metric {
			r.Dist = formatDecimal(dist) + " km"
			r.Elev = formatDecimal(elev) + " m"
		}
		results = append(results, r)
	}
	return results
}

// near reports whether v is within want*fudge of want. A zero want matches
// everything.
func near(v, want, fudge float64) bool {
	if want == 0 {
		return true
	}
	return v >= want-fudge*want && v <= want+fudge*want
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
