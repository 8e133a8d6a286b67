package sync

import (
	"testing"
	"time"

	"github.com/joshdurbin/fitnerd/internal/strava"
)

func TestNormalize(t *testing.T) {
	start := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	a := strava.Activity{
		ID:                 12345,
		Name:               "Morning Run",
		Distance:           5000.5,
		MovingTime:         1800,
		ElapsedTime:        2010,
		TotalElevationGain: 50.5,
		ElevHigh:           120,
		ElevLow:            80,
		Type:               "Run",
		SportType:          "TrailRun",
		StartDate:          start,
		StartDateLocal:     start.Add(time.Hour),
		AverageSpeed:       2.78,
		MaxSpeed:           4.5,
		HasHeartrate:       true,
		AverageHeartrate:   145,
		MaxHeartrate:       175,
	}

	got := Normalize(7, a)

	// Runtime float64 math on purpose: constant folding would round differently.
	dist, gain, high, low, avg, top := a.Distance, a.TotalElevationGain, a.ElevHigh, a.ElevLow, a.AverageSpeed, a.MaxSpeed
	feet, miles, km := 3.28084, 0.000621371, 1000.0

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"distance_miles", got.DistanceMiles, dist * miles},
		{"distance_km", got.DistanceKm, dist / km},
		{"elev_gain_ft", got.ElevGainFt, gain * feet},
		{"elev_high_ft", got.ElevHighFt, high * feet},
		{"elev_low_ft", got.ElevLowFt, low * feet},
		{"average_speed_mph", got.AverageSpeedMph, avg * 2.23694},
		{"average_speed_kph", got.AverageSpeedKph, avg * 3.6},
		{"max_speed_mph", got.MaxSpeedMph, top * 2.23694},
		{"max_speed_kph", got.MaxSpeedKph, top * 3.6},
		{"moving_time_min", got.MovingTimeMin, 30},
		{"elapsed_time_min", got.ElapsedTimeMin, 2010.0 / 60},
		{"feet_per_mile", got.FeetPerMile, (gain * feet) / (dist * miles)},
		{"meters_per_km", got.MetersPerKm, gain / (dist / km)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want exactly %v", c.name, c.got, c.want)
		}
	}

	if got.UserID != 7 || got.ActivityID != 12345 {
		t.Errorf("ids not carried: %+v", got)
	}
	if got.SportType != "TrailRun" || got.Type != "Run" {
		t.Errorf("types not carried: %q %q", got.Type, got.SportType)
	}
	if !got.StartDateLocal.Equal(start.Add(time.Hour)) {
		t.Errorf("start_date_local = %v", got.StartDateLocal)
	}
}

func TestNormalizeZeroDistanceRatios(t *testing.T) {
	tests := []struct {
		name string
		in   strava.Activity
	}{
		{"no distance no climb", strava.Activity{ID: 1}},
		{"climb without distance", strava.Activity{ID: 2, TotalElevationGain: 300}},
		{"indoor with time", strava.Activity{ID: 3, MovingTime: 3600, TotalElevationGain: 12.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(1, tt.in)
			if got.FeetPerMile != 0 {
				t.Errorf("feet_per_mile = %v, want 0", got.FeetPerMile)
			}
			if got.MetersPerKm != 0 {
				t.Errorf("meters_per_km = %v, want 0", got.MetersPerKm)
			}
		})
	}
}

func TestNormalizeDefaultsUnknownType(t *testing.T) {
	got := Normalize(1, strava.Activity{ID: 1})
	if got.Type != "Unknown" || got.SportType != "Unknown" {
		t.Errorf("expected Unknown types, got %q %q", got.Type, got.SportType)
	}
}
