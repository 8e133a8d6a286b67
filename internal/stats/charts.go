package stats

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/joshdurbin/fitnerd/internal/db"
)

// Chart metrics.
const (
	MetricDistance      = "distance"
	MetricMovingTime    = "moving_time"
	MetricElevationGain = "elevation_gain"
)

// Chart spans.
const (
	SpanMonthly = "monthly"
	SpanAnnual  = "annual"
)

var (
	ErrUnknownMetric = errors.New("unknown chart metric")
	ErrUnknownSpan   = errors.New("unknown chart span")
)

var monthLabels = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// MonthlyChart compares each year month by month: one dataset of twelve
// values per year.
type MonthlyChart struct {
	Labels     []string    `json:"labels"`
	Datasets   [][]float64 `json:"datasets"`
	Years      []int       `json:"years"`
	TitleText  string      `json:"title_text"`
	ScaleTitle string      `json:"scale_title"`
}

// AnnualChart is a single dataset with one total per year.
type AnnualChart struct {
	Labels      []string    `json:"labels"`
	Datasets    [][]float64 `json:"datasets"`
	SingleLabel string      `json:"single_label"`
	TitleText   string      `json:"title_text"`
	ScaleTitle  string      `json:"scale_title"`
	Color       string      `json:"color,omitempty"`
}

// PieChart splits total moving time by activity type.
type PieChart struct {
	Data      []float64 `json:"data"`
	Labels    []string  `json:"labels"`
	Colors    []string  `json:"colors,omitempty"`
	TitleText string    `json:"title_text"`
}

// ValidMetric reports whether m is a chartable metric.
func ValidMetric(m string) bool {
	return m == MetricDistance || m == MetricMovingTime || m == MetricElevationGain
}

// Monthly buckets acts by UTC start month for every year from the first to
// the last activity. Monthly totals are rounded to whole units.
func Monthly(actType, metric, units string, acts []db.Activity) (MonthlyChart, error) {
	value, err := metricValue(metric, units)
	if err != nil {
		return MonthlyChart{}, err
	}
	out := MonthlyChart{
		Labels:     monthLabels,
		Datasets:   [][]float64{},
		Years:      []int{},
		TitleText:  fmt.Sprintf("Monthly %s %s Comparison", actType, metricTitle(metric)),
		ScaleTitle: scaleTitle(metric, units) + " per month",
	}

	first, last, ok := yearRange(acts)
	if !ok {
		return out, nil
	}
	sums := make([][12]float64, last-first+1)
	for _, a := range acts {
		y := a.StartDate.Year() - first
		sums[y][a.StartDate.Month()-1] += value(a)
	}
	for i, months := range sums {
		data := make([]float64, 12)
		for m, v := range months {
			data[m] = math.Round(v)
		}
		out.Years = append(out.Years, first+i)
		out.Datasets = append(out.Datasets, data)
	}
	return out, nil
}

// Annual totals acts per UTC start year. Years without activity read 0 so
// every label has a value. Totals keep two decimals.
func Annual(actType, metric, units, color string, acts []db.Activity) (AnnualChart, error) {
	value, err := metricValue(metric, units)
	if err != nil {
		return AnnualChart{}, err
	}
	out := AnnualChart{
		Labels:      []string{},
		Datasets:    [][]float64{},
		SingleLabel: "Year",
		TitleText:   fmt.Sprintf("Annual %s %s Comparison", actType, metricTitle(metric)),
		ScaleTitle:  scaleTitle(metric, units) + " per year",
		Color:       color,
	}

	first, last, ok := yearRange(acts)
	if !ok {
		return out, nil
	}
	data := make([]float64, last-first+1)
	for _, a := range acts {
		data[a.StartDate.Year()-first] += value(a)
	}
	for i := range data {
		data[i] = round2(data[i])
		out.Labels = append(out.Labels, strconv.Itoa(first+i))
	}
	out.Datasets = append(out.Datasets, data)
	return out, nil
}

// Chart dispatches on span.
func Chart(actType, metric, span, units, color string, acts []db.Activity) (any, error) {
	switch span {
	case SpanMonthly:
		return Monthly(actType, metric, units, acts)
	case SpanAnnual:
		return Annual(actType, metric, units, color, acts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpan, span)
	}
}

// Pie gives each sport type's share of total moving time as a whole
// percentage, in first-seen order. Colors come from the palette when present.
func Pie(acts []db.Activity, colors map[string]string) PieChart {
	out := PieChart{
		Data:      []float64{},
		Labels:    []string{},
		TitleText: "Percentage of total moving time of each activity type you've ever recorded on Strava",
	}

	var (
		order []string
		total int64
	)
	byType := make(map[string]int64)
	for _, a := range acts {
		if _, seen := byType[a.SportType]; !seen {
			order = append(order, a.SportType)
		}
		byType[a.SportType] += a.MovingTimeSec
		total += a.MovingTimeSec
	}
	if total == 0 {
		return out
	}

	for _, t := range order {
		out.Data = append(out.Data, math.Round(float64(byType[t])/float64(total)*100))
		out.Labels = append(out.Labels, "Percent "+t)
		if c, ok := colors[t]; ok {
			out.Colors = append(out.Colors, c)
		}
	}
	if len(out.Colors) != len(out.Labels) {
		out.Colors = nil
	}
	return out
}

func metricValue(metric, units string) (func(db.Activity) float64, error) {
	metricUnits := units == Metric
	switch {
	case metric == MetricDistance && metricUnits:
		return func(a db.Activity) float64 { return a.DistanceKm }, nil
	case metric == MetricDistance:
		return func(a db.Activity) float64 { return a.DistanceMiles }, nil
	case metric == MetricMovingTime:
		return func(a db.Activity) float64 { return float64(a.MovingTimeSec) / secondsPerHour }, nil
	case metric == MetricElevationGain && metricUnits:
		return func(a db.Activity) float64 { return a.TotalElevationGainM }, nil
	case metric == MetricElevationGain:
		return func(a db.Activity) float64 { return a.ElevGainFt }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

func metricTitle(metric string) string {
	switch metric {
	case MetricDistance:
		return "Total Distance"
	case MetricMovingTime:
		return "Total Moving Time"
	default:
		return "Total Elevation Gain"
	}
}

func scaleTitle(metric, units string) string {
	switch {
	case metric == MetricMovingTime:
		return "Hours"
	case metric == MetricDistance && units == Metric:
		return "KM"
	case metric == MetricDistance:
		return "Miles"
	case units == Metric:
		return "Meters"
	default:
		return "Feet"
	}
}
