package strava

import "time"

// Activity is the summary activity representation returned by both the list
// and the single-activity endpoints. Absent numeric fields decode as zero.
type Activity struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Distance             float64   `json:"distance"`
	MovingTime           int64     `json:"moving_time"`
	ElapsedTime          int64     `json:"elapsed_time"`
	TotalElevationGain   float64   `json:"total_elevation_gain"`
	ElevHigh             float64   `json:"elev_high"`
	ElevLow              float64   `json:"elev_low"`
	Type                 string    `json:"type"`
	SportType            string    `json:"sport_type"`
	StartDate            time.Time `json:"start_date"`
	StartDateLocal       time.Time `json:"start_date_local"`
	Timezone             string    `json:"timezone"`
	UtcOffset            float64   `json:"utc_offset"`
	LocationCountry      string    `json:"location_country"`
	AchievementCount     int64     `json:"achievement_count"`
	KudosCount           int64     `json:"kudos_count"`
	PrCount              int64     `json:"pr_count"`
	HasHeartrate         bool      `json:"has_heartrate"`
	AverageSpeed         float64   `json:"average_speed"`
	MaxSpeed             float64   `json:"max_speed"`
	AverageCadence       float64   `json:"average_cadence"`
	AverageWatts         float64   `json:"average_watts"`
	MaxWatts             float64   `json:"max_watts"`
	WeightedAverageWatts float64   `json:"weighted_average_watts"`
	Kilojoules           float64   `json:"kilojoules"`
	AverageHeartrate     float64   `json:"average_heartrate"`
	MaxHeartrate         float64   `json:"max_heartrate"`
	SufferScore          float64   `json:"suffer_score"`
	AverageTemp          float64   `json:"average_temp"`
}

// Complete reports whether the API has finished processing the activity.
// Freshly uploaded activities can come back with a zero id for a few seconds.
func (a *Activity) Complete() bool {
	return a != nil && a.ID != 0
}
