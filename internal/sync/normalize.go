package sync

import (
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/strava"
)

// Unit conversion constants applied to every stored activity.
const (
	FeetPerMeter       = 3.28084
	MilesPerMeter      = 0.000621371
	MetersPerKilometer = 1000.0
	MphPerMps          = 2.23694
	KphPerMps          = 3.6
	SecondsPerMinute   = 60.0
)

// Normalize converts an API activity into the stored record, filling in the
// imperial and metric derived fields.
func Normalize(userID int64, a strava.Activity) db.Activity {
	elevGainFt := a.TotalElevationGain * FeetPerMeter
	miles := a.Distance * MilesPerMeter
	km := a.Distance / MetersPerKilometer

	return db.Activity{
		UserID:               userID,
		ActivityID:           a.ID,
		Name:                 a.Name,
		Type:                 orUnknown(a.Type),
		SportType:            orUnknown(a.SportType),
		StartDate:            a.StartDate,
		StartDateLocal:       a.StartDateLocal,
		Timezone:             a.Timezone,
		UtcOffset:            a.UtcOffset,
		LocationCountry:      a.LocationCountry,
		AchievementCount:     a.AchievementCount,
		KudosCount:           a.KudosCount,
		PrCount:              a.PrCount,
		HasHeartrate:         a.HasHeartrate,
		DistanceMeters:       a.Distance,
		MovingTimeSec:        a.MovingTime,
		ElapsedTimeSec:       a.ElapsedTime,
		TotalElevationGainM:  a.TotalElevationGain,
		ElevHighM:            a.ElevHigh,
		ElevLowM:             a.ElevLow,
		AverageSpeedMps:      a.AverageSpeed,
		MaxSpeedMps:          a.MaxSpeed,
		AverageCadence:       a.AverageCadence,
		AverageWatts:         a.AverageWatts,
		MaxWatts:             a.MaxWatts,
		WeightedAverageWatts: a.WeightedAverageWatts,
		Kilojoules:           a.Kilojoules,
		AverageHeartrate:     a.AverageHeartrate,
		MaxHeartrate:         a.MaxHeartrate,
		SufferScore:          a.SufferScore,
		AverageTemp:          a.AverageTemp,
		ElapsedTimeMin:       float64(a.ElapsedTime) / SecondsPerMinute,
		MovingTimeMin:        float64(a.MovingTime) / SecondsPerMinute,
		ElevHighFt:           a.ElevHigh * FeetPerMeter,
		ElevLowFt:            a.ElevLow * FeetPerMeter,
		ElevGainFt:           elevGainFt,
		DistanceMiles:        miles,
		DistanceKm:           km,
		FeetPerMile:          ratio(elevGainFt, miles),
		MetersPerKm:          ratio(a.TotalElevationGain, km),
		AverageSpeedMph:      a.AverageSpeed * MphPerMps,
		AverageSpeedKph:      a.AverageSpeed * KphPerMps,
		MaxSpeedMph:          a.MaxSpeed * MphPerMps,
		MaxSpeedKph:          a.MaxSpeed * KphPerMps,
	}
}

// ratio is num/den, or 0 when den is not positive.
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
