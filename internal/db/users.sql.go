package db

import (
	"context"
	"time"
)

const userColumns = `id, username, athlete_id, preferred_units, is_verified, initial_download_done, color_palette, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.AthleteID,
		&u.PreferredUnits,
		&u.IsVerified,
		&u.InitialDownloadDone,
		&u.ColorPalette,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (username, created_at, updated_at)
VALUES (?, ?, ?)
RETURNING ` + userColumns

func (q *Queries) CreateUser(ctx context.Context, username string) (User, error) {
	now := time.Now().Unix()
	return scanUser(q.db.QueryRowContext(ctx, createUser, username, now, now))
}

const upsertUserByAthlete = `-- name: UpsertUserByAthlete :one
INSERT INTO users (username, athlete_id, is_verified, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (athlete_id) DO UPDATE SET
    username = excluded.username,
    is_verified = 1,
    updated_at = excluded.updated_at
RETURNING ` + userColumns

type UpsertUserByAthleteParams struct {
	Username  string
	AthleteID int64
}

// UpsertUserByAthlete creates or re-verifies the local user linked to an
// upstream athlete.
func (q *Queries) UpsertUserByAthlete(ctx context.Context, arg UpsertUserByAthleteParams) (User, error) {
	now := time.Now().Unix()
	return scanUser(q.db.QueryRowContext(ctx, upsertUserByAthlete, arg.Username, arg.AthleteID, now, now))
}

const getUser = `-- name: GetUser :one
SELECT ` + userColumns + ` FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, getUser, id))
	return u, notFound(err)
}

const getUserByAthleteID = `-- name: GetUserByAthleteID :one
SELECT ` + userColumns + ` FROM users WHERE athlete_id = ?`

func (q *Queries) GetUserByAthleteID(ctx context.Context, athleteID int64) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, getUserByAthleteID, athleteID))
	return u, notFound(err)
}

const listUsers = `-- name: ListUsers :many
SELECT ` + userColumns + ` FROM users ORDER BY id`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const setInitialDownloadDone = `-- name: SetInitialDownloadDone :exec
UPDATE users SET initial_download_done = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetInitialDownloadDone(ctx context.Context, id int64, done bool) error {
	_, err := q.db.ExecContext(ctx, setInitialDownloadDone, boolToInt(done), time.Now().Unix(), id)
	return err
}

const setVerified = `-- name: SetVerified :exec
UPDATE users SET is_verified = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetVerified(ctx context.Context, id int64, verified bool) error {
	_, err := q.db.ExecContext(ctx, setVerified, boolToInt(verified), time.Now().Unix(), id)
	return err
}

const setPreferredUnits = `-- name: SetPreferredUnits :exec
UPDATE users SET preferred_units = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetPreferredUnits(ctx context.Context, id int64, units string) error {
	_, err := q.db.ExecContext(ctx, setPreferredUnits, units, time.Now().Unix(), id)
	return err
}

const setColorPalette = `-- name: SetColorPalette :exec
UPDATE users SET color_palette = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetColorPalette(ctx context.Context, id int64, paletteJSON string) error {
	_, err := q.db.ExecContext(ctx, setColorPalette, paletteJSON, time.Now().Unix(), id)
	return err
}
