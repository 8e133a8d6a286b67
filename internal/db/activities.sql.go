package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const activityFields = `user_id, activity_id, name, type, sport_type, start_date, start_date_local, timezone,
    utc_offset, location_country, achievement_count, kudos_count, pr_count, has_heartrate,
    distance_meters, moving_time_sec, elapsed_time_sec, total_elevation_gain_m, elev_high_m,
    elev_low_m, average_speed_mps, max_speed_mps, average_cadence, average_watts, max_watts,
    weighted_average_watts, kilojoules, average_heartrate, max_heartrate, suffer_score,
    average_temp, elapsed_time_min, moving_time_min, elev_high_ft, elev_low_ft, elev_gain_ft,
    distance_miles, distance_km, feet_per_mile, meters_per_km, average_speed_mph,
    average_speed_kph, max_speed_mph, max_speed_kph`

const activityColumns = `id, ` + activityFields

func scanActivity(row interface{ Scan(...interface{}) error }) (Activity, error) {
	var (
		a                     Activity
		startDate, startLocal int64
	)
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ActivityID,
		&a.Name,
		&a.Type,
		&a.SportType,
		&startDate,
		&startLocal,
		&a.Timezone,
		&a.UtcOffset,
		&a.LocationCountry,
		&a.AchievementCount,
		&a.KudosCount,
		&a.PrCount,
		&a.HasHeartrate,
		&a.DistanceMeters,
		&a.MovingTimeSec,
		&a.ElapsedTimeSec,
		&a.TotalElevationGainM,
		&a.ElevHighM,
		&a.ElevLowM,
		&a.AverageSpeedMps,
		&a.MaxSpeedMps,
		&a.AverageCadence,
		&a.AverageWatts,
		&a.MaxWatts,
		&a.WeightedAverageWatts,
		&a.Kilojoules,
		&a.AverageHeartrate,
		&a.MaxHeartrate,
		&a.SufferScore,
		&a.AverageTemp,
		&a.ElapsedTimeMin,
		&a.MovingTimeMin,
		&a.ElevHighFt,
		&a.ElevLowFt,
		&a.ElevGainFt,
		&a.DistanceMiles,
		&a.DistanceKm,
		&a.FeetPerMile,
		&a.MetersPerKm,
		&a.AverageSpeedMph,
		&a.AverageSpeedKph,
		&a.MaxSpeedMph,
		&a.MaxSpeedKph,
	)
	a.StartDate = time.Unix(startDate, 0).UTC()
	a.StartDateLocal = time.Unix(startLocal, 0).UTC()
	return a, err
}

func scanActivities(ctx context.Context, q *Queries, query string, args ...interface{}) ([]Activity, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const upsertActivity = `-- name: UpsertActivity :exec
INSERT INTO activities (` + activityFields + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, activity_id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    sport_type = excluded.sport_type,
    start_date = excluded.start_date,
    start_date_local = excluded.start_date_local,
    timezone = excluded.timezone,
    utc_offset = excluded.utc_offset,
    location_country = excluded.location_country,
    achievement_count = excluded.achievement_count,
    kudos_count = excluded.kudos_count,
    pr_count = excluded.pr_count,
    has_heartrate = excluded.has_heartrate,
    distance_meters = excluded.distance_meters,
    moving_time_sec = excluded.moving_time_sec,
    elapsed_time_sec = excluded.elapsed_time_sec,
    total_elevation_gain_m = excluded.total_elevation_gain_m,
    elev_high_m = excluded.elev_high_m,
    elev_low_m = excluded.elev_low_m,
    average_speed_mps = excluded.average_speed_mps,
    max_speed_mps = excluded.max_speed_mps,
    average_cadence = excluded.average_cadence,
    average_watts = excluded.average_watts,
    max_watts = excluded.max_watts,
    weighted_average_watts = excluded.weighted_average_watts,
    kilojoules = excluded.kilojoules,
    average_heartrate = excluded.average_heartrate,
    max_heartrate = excluded.max_heartrate,
    suffer_score = excluded.suffer_score,
    average_temp = excluded.average_temp,
    elapsed_time_min = excluded.elapsed_time_min,
    moving_time_min = excluded.moving_time_min,
    elev_high_ft = excluded.elev_high_ft,
    elev_low_ft = excluded.elev_low_ft,
    elev_gain_ft = excluded.elev_gain_ft,
    distance_miles = excluded.distance_miles,
    distance_km = excluded.distance_km,
    feet_per_mile = excluded.feet_per_mile,
    meters_per_km = excluded.meters_per_km,
    average_speed_mph = excluded.average_speed_mph,
    average_speed_kph = excluded.average_speed_kph,
    max_speed_mph = excluded.max_speed_mph,
    max_speed_kph = excluded.max_speed_kph`

// UpsertActivity inserts the activity or overwrites the stored copy for the
// same (user_id, activity_id). The ID field is ignored.
func (q *Queries) UpsertActivity(ctx context.Context, a Activity) error {
	_, err := q.db.ExecContext(ctx, upsertActivity,
		a.UserID,
		a.ActivityID,
		a.Name,
		a.Type,
		a.SportType,
		a.StartDate.Unix(),
		a.StartDateLocal.Unix(),
		a.Timezone,
		a.UtcOffset,
		a.LocationCountry,
		a.AchievementCount,
		a.KudosCount,
		a.PrCount,
		boolToInt(a.HasHeartrate),
		a.DistanceMeters,
		a.MovingTimeSec,
		a.ElapsedTimeSec,
		a.TotalElevationGainM,
		a.ElevHighM,
		a.ElevLowM,
		a.AverageSpeedMps,
		a.MaxSpeedMps,
		a.AverageCadence,
		a.AverageWatts,
		a.MaxWatts,
		a.WeightedAverageWatts,
		a.Kilojoules,
		a.AverageHeartrate,
		a.MaxHeartrate,
		a.SufferScore,
		a.AverageTemp,
		a.ElapsedTimeMin,
		a.MovingTimeMin,
		a.ElevHighFt,
		a.ElevLowFt,
		a.ElevGainFt,
		a.DistanceMiles,
		a.DistanceKm,
		a.FeetPerMile,
		a.MetersPerKm,
		a.AverageSpeedMph,
		a.AverageSpeedKph,
		a.MaxSpeedMph,
		a.MaxSpeedKph,
	)
	return err
}

const getActivity = `-- name: GetActivity :one
SELECT ` + activityColumns + ` FROM activities WHERE user_id = ? AND activity_id = ?`

func (q *Queries) GetActivity(ctx context.Context, userID, activityID int64) (Activity, error) {
	a, err := scanActivity(q.db.QueryRowContext(ctx, getActivity, userID, activityID))
	return a, notFound(err)
}

const updateActivityNameType = `-- name: UpdateActivityNameType :execrows
UPDATE activities
SET name = COALESCE(?, name),
    type = COALESCE(?, type),
    sport_type = COALESCE(?, sport_type)
WHERE user_id = ? AND activity_id = ?`

// UpdateActivityNameTypeParams carries the fields a webhook update may
// touch. Nil pointers leave the stored value alone.
type UpdateActivityNameTypeParams struct {
	UserID     int64
	ActivityID int64
	Name       *string
	Type       *string
	SportType  *string
}

func (q *Queries) UpdateActivityNameType(ctx context.Context, arg UpdateActivityNameTypeParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateActivityNameType,
		arg.Name,
		arg.Type,
		arg.SportType,
		arg.UserID,
		arg.ActivityID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteActivity = `-- name: DeleteActivity :execrows
DELETE FROM activities WHERE user_id = ? AND activity_id = ?`

func (q *Queries) DeleteActivity(ctx context.Context, userID, activityID int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteActivity, userID, activityID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteUserActivities = `-- name: DeleteUserActivities :execrows
DELETE FROM activities WHERE user_id = ?`

func (q *Queries) DeleteUserActivities(ctx context.Context, userID int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUserActivities, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListActivitiesParams filters a user's activities. Empty SportTypes means
// every type; a zero From or Until leaves that side of the local start date
// range open. Until is exclusive.
type ListActivitiesParams struct {
	UserID     int64
	SportTypes []string
	From       time.Time
	Until      time.Time
}

// ListActivities returns matching activities ordered by start date, then
// upstream id.
func (q *Queries) ListActivities(ctx context.Context, arg ListActivitiesParams) ([]Activity, error) {
	var (
		sb   strings.Builder
		args = []interface{}{arg.UserID}
	)
	sb.WriteString("-- name: ListActivities :many\nSELECT ")
	sb.WriteString(activityColumns)
	sb.WriteString(" FROM activities WHERE user_id = ?")
	if len(arg.SportTypes) > 0 {
		sb.WriteString(" AND sport_type IN (?")
		sb.WriteString(strings.Repeat(", ?", len(arg.SportTypes)-1))
		sb.WriteString(")")
		for _, t := range arg.SportTypes {
			args = append(args, t)
		}
	}
	if !arg.From.IsZero() {
		sb.WriteString(" AND start_date_local >= ?")
		args = append(args, arg.From.Unix())
	}
	if !arg.Until.IsZero() {
		sb.WriteString(" AND start_date_local < ?")
		args = append(args, arg.Until.Unix())
	}
	sb.WriteString(" ORDER BY start_date, activity_id")
	return scanActivities(ctx, q, sb.String(), args...)
}

const listRecentActivities = `-- name: ListRecentActivities :many
SELECT ` + activityColumns + ` FROM activities WHERE user_id = ?
ORDER BY start_date DESC, activity_id DESC
LIMIT ?`

func (q *Queries) ListRecentActivities(ctx context.Context, userID int64, limit int) ([]Activity, error) {
	return scanActivities(ctx, q, listRecentActivities, userID, limit)
}

const listSportTypes = `-- name: ListSportTypes :many
SELECT sport_type FROM activities WHERE user_id = ?
GROUP BY sport_type
ORDER BY MIN(id)`

// ListSportTypes returns the user's distinct sport types in the order they
// were first stored.
func (q *Queries) ListSportTypes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listSportTypes, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const latestStartDate = `-- name: LatestStartDate :one
SELECT MAX(start_date) FROM activities WHERE user_id = ?`

// LatestStartDate returns the start of the user's most recent activity, or
// ErrNotFound when nothing is stored.
func (q *Queries) LatestStartDate(ctx context.Context, userID int64) (time.Time, error) {
	var ts sql.NullInt64
	if err := q.db.QueryRowContext(ctx, latestStartDate, userID).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

const countActivities = `-- name: CountActivities :one
SELECT COUNT(*) FROM activities WHERE user_id = ?`

func (q *Queries) CountActivities(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countActivities, userID).Scan(&n)
	return n, err
}
