// Package stats aggregates stored activities into summaries, chart series and
// search results. Everything here is pure computation over []db.Activity; the
// caller decides which activities to load.
package stats

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joshdurbin/fitnerd/internal/db"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
)

const (
	secondsPerHour = 3600.0
	secondsPerDay  = 3600.0 * 24
	feetPerMile    = 5280.0

	// zeroValue is what every decimal statistic reads on an empty collection.
	zeroValue  = "0.0"
	dateLayout = "2006-01-02"
)

// RecordRef points at the activity holding a maximum. The zero value (no
// activity id, empty date) is the placeholder for an empty collection.
type RecordRef struct {
	ActivityID int64  `json:"activity_id,omitempty"`
	Date       string `json:"date"`
}

// Summary is the flat set of statistics computed for a collection of
// activities. Values are preformatted for display: two decimals with comma
// grouping, except the greatest distance and average moving time which are
// whole numbers.
type Summary struct {
	NumActs            int       `json:"num_acts"`
	TotDistMiles       string    `json:"tot_dist_miles"`
	TotDistKm          string    `json:"tot_dist_km"`
	AvgDistMiles       string    `json:"avg_dist_miles"`
	AvgDistKm          string    `json:"avg_dist_km"`
	GreatestDistMiles  string    `json:"greatest_dist_miles"`
	GreatestDistKm     string    `json:"greatest_dist_km"`
	GreatestDistDate   RecordRef `json:"greatest_dist_date"`
	TotElevGainM       string    `json:"tot_elev_gain_m"`
	TotElevGainFeet    string    `json:"tot_elev_gain_feet"`
	TotElevGainMiles   string    `json:"tot_elev_gain_miles"`
	TotElevGainKm      string    `json:"tot_elev_gain_km"`
	TotDurHours        string    `json:"tot_dur_hours"`
	TotDurDays         string    `json:"tot_dur_days"`
	AvgDurMin          string    `json:"avg_dur_min"`
	TotMovingTimeHours string    `json:"tot_moving_time_hours"`
	TotMovingTimeDays  string    `json:"tot_moving_time_days"`
	AvgMovTimeMin      string    `json:"avg_mov_time_min"`
	AvgSpeedMph        string    `json:"avg_speed_mph"`
	AvgSpeedKph        string    `json:"avg_speed_kph"`
	MaxSpeedMph        string    `json:"max_speed_mph"`
	MaxSpeedKph        string    `json:"max_speed_kph"`
	MaxSpeedDate       RecordRef `json:"max_speed_date"`
	MaxElevGainFt      string    `json:"max_elev_gain_ft"`
	MaxElevGainM       string    `json:"max_elev_gain_m"`
	MaxElevGainDate    RecordRef `json:"max_elev_gain_date"`
	MaxHR              string    `json:"max_hr"`
	MaxHRDate          RecordRef `json:"max_hr_date"`
}

// EmptySummary is the placeholder set returned for no activities.
func EmptySummary() Summary {
	return Summary{
		TotDistMiles:       zeroValue,
		TotDistKm:          zeroValue,
		AvgDistMiles:       zeroValue,
		AvgDistKm:          zeroValue,
		GreatestDistMiles:  zeroValue,
		GreatestDistKm:     zeroValue,
		TotElevGainM:       zeroValue,
		TotElevGainFeet:    zeroValue,
		TotElevGainMiles:   zeroValue,
		TotElevGainKm:      zeroValue,
		TotDurHours:        zeroValue,
		TotDurDays:         zeroValue,
		AvgDurMin:          zeroValue,
		TotMovingTimeHours: zeroValue,
		TotMovingTimeDays:  zeroValue,
		AvgMovTimeMin:      zeroValue,
		AvgSpeedMph:        zeroValue,
		AvgSpeedKph:        zeroValue,
		MaxSpeedMph:        zeroValue,
		MaxSpeedKph:        zeroValue,
		MaxElevGainFt:      zeroValue,
		MaxElevGainM:       zeroValue,
		MaxHR:              "0",
	}
}

// Summarize computes the statistics for acts. It never fails: an empty slice
// yields EmptySummary. When several activities share a maximum the one with
// the lowest activity id holds the record.
func Summarize(acts []db.Activity) Summary {
	if len(acts) == 0 {
		return EmptySummary()
	}

	var (
		distM, elevM               float64
		elapsedSec, movingSec      int64
		maxSpeedMph, maxSpeedKph   float64
		maxElevFt, maxElevM, maxHR float64
		longest, fastest, most, hr int
	)
	for i, a := range acts {
		distM += a.DistanceMeters
		elevM += a.TotalElevationGainM
		elapsedSec += a.ElapsedTimeSec
		movingSec += a.MovingTimeSec

		maxSpeedMph = math.Max(maxSpeedMph, a.MaxSpeedMph)
		maxSpeedKph = math.Max(maxSpeedKph, a.MaxSpeedKph)
		maxElevFt = math.Max(maxElevFt, a.ElevGainFt)
		maxElevM = math.Max(maxElevM, a.TotalElevationGainM)
		maxHR = math.Max(maxHR, a.MaxHeartrate)

		if i == 0 {
			continue
		}
		if beats(a, acts[longest], func(x db.Activity) float64 { return x.DistanceMeters }) {
			longest = i
		}
		if beats(a, acts[fastest], func(x db.Activity) float64 { return x.MaxSpeedMps }) {
			fastest = i
		}
		if beats(a, acts[most], func(x db.Activity) float64 { return x.TotalElevationGainM }) {
			most = i
		}
		if beats(a, acts[hr], func(x db.Activity) float64 { return x.MaxHeartrate }) {
			hr = i
		}
	}

	n := float64(len(acts))
	miles := distM * fitsync.MilesPerMeter
	km := distM / fitsync.MetersPerKilometer
	elevFt := elevM * fitsync.FeetPerMeter

	var speedMps float64
	if movingSec > 0 {
		speedMps = distM / float64(movingSec)
	}

	return Summary{
		NumActs:            len(acts),
		TotDistMiles:       formatDecimal(miles),
		TotDistKm:          formatDecimal(km),
		AvgDistMiles:       formatDecimal(miles / n),
		AvgDistKm:          formatDecimal(km / n),
		GreatestDistMiles:  formatWhole(acts[longest].DistanceMiles),
		GreatestDistKm:     formatWhole(acts[longest].DistanceKm),
		GreatestDistDate:   recordOf(acts[longest]),
		TotElevGainM:       formatDecimal(elevM),
		TotElevGainFeet:    formatDecimal(elevFt),
		TotElevGainMiles:   formatDecimal(elevFt / feetPerMile),
		TotElevGainKm:      formatDecimal(elevM / fitsync.MetersPerKilometer),
		TotDurHours:        formatDecimal(float64(elapsedSec) / secondsPerHour),
		TotDurDays:         formatDecimal(float64(elapsedSec) / secondsPerDay),
		AvgDurMin:          formatDecimal(float64(elapsedSec) / n / fitsync.SecondsPerMinute),
		TotMovingTimeHours: formatDecimal(float64(movingSec) / secondsPerHour),
		TotMovingTimeDays:  formatDecimal(float64(movingSec) / secondsPerDay),
		AvgMovTimeMin:      formatWhole(float64(movingSec) / n / fitsync.SecondsPerMinute),
		AvgSpeedMph:        formatDecimal(speedMps * fitsync.MphPerMps),
		AvgSpeedKph:        formatDecimal(speedMps * fitsync.KphPerMps),
		MaxSpeedMph:        formatDecimal(maxSpeedMph),
		MaxSpeedKph:        formatDecimal(maxSpeedKph),
		MaxSpeedDate:       recordOf(acts[fastest]),
		MaxElevGainFt:      formatDecimal(maxElevFt),
		MaxElevGainM:       formatDecimal(maxElevM),
		MaxElevGainDate:    recordOf(acts[most]),
		MaxHR:              formatDecimal(maxHR),
		MaxHRDate:          recordOf(acts[hr]),
	}
}

// Values exposes the summary keyed by its JSON field names, for building
// table rows from a list of keys.
func (s Summary) Values() map[string]any {
	return map[string]any{
		"num_acts":              s.NumActs,
		"tot_dist_miles":        s.TotDistMiles,
		"tot_dist_km":           s.TotDistKm,
		"avg_dist_miles":        s.AvgDistMiles,
		"avg_dist_km":           s.AvgDistKm,
		"greatest_dist_miles":   s.GreatestDistMiles,
		"greatest_dist_km":      s.GreatestDistKm,
		"greatest_dist_date":    s.GreatestDistDate,
		"tot_elev_gain_m":       s.TotElevGainM,
		"tot_elev_gain_feet":    s.TotElevGainFeet,
		"tot_elev_gain_miles":   s.TotElevGainMiles,
		"tot_elev_gain_km":      s.TotElevGainKm,
		"tot_dur_hours":         s.TotDurHours,
		"tot_dur_days":          s.TotDurDays,
		"avg_dur_min":           s.AvgDurMin,
		"tot_moving_time_hours": s.TotMovingTimeHours,
		"tot_moving_time_days":  s.TotMovingTimeDays,
		"avg_mov_time_min":      s.AvgMovTimeMin,
		"avg_speed_mph":         s.AvgSpeedMph,
		"avg_speed_kph":         s.AvgSpeedKph,
		"max_speed_mph":         s.MaxSpeedMph,
		"max_speed_kph":         s.MaxSpeedKph,
		"max_speed_date":        s.MaxSpeedDate,
		"max_elev_gain_ft":      s.MaxElevGainFt,
		"max_elev_gain_m":       s.MaxElevGainM,
		"max_elev_gain_date":    s.MaxElevGainDate,
		"max_hr":                s.MaxHR,
		"max_hr_date":           s.MaxHRDate,
	}
}

// beats reports whether a holds a strictly better record than cur for the
// given metric, breaking ties toward the lower activity id.
func beats(a, cur db.Activity, metric func(db.Activity) float64) bool {
	av, cv := metric(a), metric(cur)
	if av != cv {
		return av > cv
	}
	return a.ActivityID < cur.ActivityID
}

func recordOf(a db.Activity) RecordRef {
	return RecordRef{ActivityID: a.ActivityID, Date: a.StartDateLocal.Format(dateLayout)}
}

// formatDecimal rounds to two places and groups thousands, always keeping at
// least one fractional digit: 1234.5 -> "1,234.5", 10 -> "10.0".
func formatDecimal(v float64) string {
	s := humanize.Commaf(round2(v))
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// formatWhole rounds to the nearest integer and groups thousands.
func formatWhole(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
