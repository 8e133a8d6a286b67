package stats

import (
	"github.com/joshdurbin/fitnerd/internal/db"
)

// Unit systems a user can prefer.
const (
	Imperial = "imperial"
	Metric   = "metric"
)

// ValidUnits reports whether u names a supported unit system.
func ValidUnits(u string) bool {
	return u == Imperial || u == Metric
}

// YearSummary is the summary of one calendar year.
type YearSummary struct {
	Year    int     `json:"year"`
	Summary Summary `json:"summary"`
}

// AnalysisRow is one table row: a heading, one value per year and the total.
type AnalysisRow struct {
	Heading string `json:"heading"`
	Key     string `json:"key"`
	Values  []any  `json:"values"`
	Total   any    `json:"total"`
}

// Analysis breaks one activity type down by year.
type Analysis struct {
	Type     string        `json:"type"`
	Units    string        `json:"units"`
	Overall  Summary       `json:"overall"`
	Years    []YearSummary `json:"years"`
	Headings []string      `json:"headings"`
	Keys     []string      `json:"keys"`
	Rows     []AnalysisRow `json:"rows"`
}

// Analyze summarizes acts as a whole and once per calendar year from the
// first to the last year with an activity, empty years included. Years are
// taken from the UTC start date.
func Analyze(actType, units string, acts []db.Activity) Analysis {
	headings, keys := Headings(actType, units)
	out := Analysis{
		Type:     actType,
		Units:    units,
		Overall:  Summarize(acts),
		Years:    []YearSummary{},
		Headings: headings,
		Keys:     keys,
	}

	if first, last, ok := yearRange(acts); ok {
		byYear := make(map[int][]db.Activity)
		for _, a := range acts {
			y := a.StartDate.Year()
			byYear[y] = append(byYear[y], a)
		}
		for y := first; y <= last; y++ {
			out.Years = append(out.Years, YearSummary{Year: y, Summary: Summarize(byYear[y])})
		}
	}

	yearValues := make([]map[string]any, len(out.Years))
	for i, ys := range out.Years {
		yearValues[i] = ys.Summary.Values()
	}
	totals := out.Overall.Values()

	out.Rows = make([]AnalysisRow, len(keys))
	for i, k := range keys {
		row := AnalysisRow{Heading: headings[i], Key: k, Values: make([]any, len(yearValues)), Total: totals[k]}
		for j, yv := range yearValues {
			row.Values[j] = yv[k]
		}
		out.Rows[i] = row
	}
	return out
}

// Headings returns the table headings and the matching summary keys for the
// unit system.
func Headings(actType, units string) (headings, keys []string) {
	if units == Metric {
		headings = []string{
			"Number of " + actType + "s", "Total Distance (km)", "Average Distance (km)",
			"Greatest Distance (km)", "Greatest Distance Date", "Total Elev. Gain (meters)",
			"Total Elev. Gain (km)", "Total Duration (hours)", "Total Duration (days)",
			"Average Duration (min)", "Total Moving Time (hours)", "Total Moving Time (days)",
			"Average Moving Time (min)", "Average Speed (kph)", "Max Speed (kph)", "Max Speed Date",
			"Max Elevation Gain(m)", "Max Elevation Gain Date", "Max Heart Rate", "Max HR Date",
		}
		keys = []string{
			"num_acts", "tot_dist_km", "avg_dist_km", "greatest_dist_km", "greatest_dist_date",
			"tot_elev_gain_m", "tot_elev_gain_km", "tot_dur_hours", "tot_dur_days", "avg_dur_min",
			"tot_moving_time_hours", "tot_moving_time_days", "avg_mov_time_min", "avg_speed_kph",
			"max_speed_kph", "max_speed_date", "max_elev_gain_m", "max_elev_gain_date", "max_hr",
			"max_hr_date",
		}
		return headings, keys
	}

	headings = []string{
		"Number of " + actType + "s", "Total Distance (miles)", "Average Distance (miles)",
		"Greatest Distance (miles)", "Greatest Distance Date", "Total Elev. Gain (ft)",
		"Total Elev. Gain (miles)", "Total Duration (hours)", "Total Duration (days)",
		"Average Duration (min)", "Total Moving Time (hours)", "Total Moving Time (days)",
		"Average Moving Time (min)", "Average Speed (mph)", "Max Speed (mph)", "Max Speed Date",
		"Max Elevation Gain(ft)", "Max Elevation Gain Date", "Max Heart Rate", "Max HR Date",
	}
	keys = []string{
		"num_acts", "tot_dist_miles", "avg_dist_miles", "greatest_dist_miles", "greatest_dist_date",
		"tot_elev_gain_feet", "tot_elev_gain_miles", "tot_dur_hours", "tot_dur_days", "avg_dur_min",
		"tot_moving_time_hours", "tot_moving_time_days", "avg_mov_time_min", "avg_speed_mph",
		"max_speed_mph", "max_speed_date", "max_elev_gain_ft", "max_elev_gain_date", "max_hr",
		"max_hr_date",
	}
	return headings, keys
}

func yearRange(acts []db.Activity) (first, last int, ok bool) {
	for i, a := range acts {
		y := a.StartDate.Year()
		if i == 0 || y < first {
			first = y
		}
		if i == 0 || y > last {
			last = y
		}
	}
	return first, last, len(acts) > 0
}
