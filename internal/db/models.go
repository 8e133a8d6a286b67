package db

import (
	"database/sql"
	"time"
)

type User struct {
	ID                  int64
	Username            string
	AthleteID           sql.NullInt64
	PreferredUnits      string
	IsVerified          bool
	InitialDownloadDone bool
	ColorPalette        string
	CreatedAt           int64
	UpdatedAt           int64
}

type Credential struct {
	UserID       int64
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	UpdatedAt    int64
}

// Activity is one stored upstream activity with its derived imperial and
// metric fields. StartDate and StartDateLocal are persisted as unix seconds.
type Activity struct {
	ID                   int64
	UserID               int64
	ActivityID           int64
	Name                 string
	Type                 string
	SportType            string
	StartDate            time.Time
	StartDateLocal       time.Time
	Timezone             string
	UtcOffset            float64
	LocationCountry      string
	AchievementCount     int64
	KudosCount           int64
	PrCount              int64
	HasHeartrate         bool
	DistanceMeters       float64
	MovingTimeSec        int64
	ElapsedTimeSec       int64
	TotalElevationGainM  float64
	ElevHighM            float64
	ElevLowM             float64
	AverageSpeedMps      float64
	MaxSpeedMps          float64
	AverageCadence       float64
	AverageWatts         float64
	MaxWatts             float64
	WeightedAverageWatts float64
	Kilojoules           float64
	AverageHeartrate     float64
	MaxHeartrate         float64
	SufferScore          float64
	AverageTemp          float64
	ElapsedTimeMin       float64
	MovingTimeMin        float64
	ElevHighFt           float64
	ElevLowFt            float64
	ElevGainFt           float64
	DistanceMiles        float64
	DistanceKm           float64
	FeetPerMile          float64
	MetersPerKm          float64
	AverageSpeedMph      float64
	AverageSpeedKph      float64
	MaxSpeedMph          float64
	MaxSpeedKph          float64
}

type WebhookSubscription struct {
	Service        string
	SubscriptionID int64
	CreatedAt      int64
}

type Job struct {
	ID              string
	UserID          int64
	Kind            string
	State           string
	Payload         string
	Attempts        int64
	MaxAttempts     int64
	PagesFetched    int64
	ActivitiesSaved int64
	LastError       string
	RunAt           int64
	CreatedAt       int64
	StartedAt       sql.NullInt64
	FinishedAt      sql.NullInt64
}
