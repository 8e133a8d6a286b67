package db

import (
	"context"
	"time"
)

const credentialColumns = `user_id, token_type, access_token, refresh_token, expires_at, updated_at`

func scanCredential(row interface{ Scan(...interface{}) error }) (Credential, error) {
	var c Credential
	err := row.Scan(&c.UserID, &c.TokenType, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)
	return c, err
}

const getCredential = `-- name: GetCredential :one
SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = ?`

func (q *Queries) GetCredential(ctx context.Context, userID int64) (Credential, error) {
	c, err := scanCredential(q.db.QueryRowContext(ctx, getCredential, userID))
	return c, notFound(err)
}

const upsertCredential = `-- name: UpsertCredential :exec
INSERT INTO credentials (user_id, token_type, access_token, refresh_token, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    token_type = excluded.token_type,
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`

type UpsertCredentialParams struct {
	UserID       int64
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

func (q *Queries) UpsertCredential(ctx context.Context, arg UpsertCredentialParams) error {
	tokenType := arg.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	_, err := q.db.ExecContext(ctx, upsertCredential,
		arg.UserID,
		tokenType,
		arg.AccessToken,
		arg.RefreshToken,
		arg.ExpiresAt,
		time.Now().Unix(),
	)
	return err
}

const deleteCredential = `-- name: DeleteCredential :exec
DELETE FROM credentials WHERE user_id = ?`

func (q *Queries) DeleteCredential(ctx context.Context, userID int64) error {
	_, err := q.db.ExecContext(ctx, deleteCredential, userID)
	return err
}

const listCredentialsExpiringBefore = `-- name: ListCredentialsExpiringBefore :many
SELECT ` + credentialColumns + ` FROM credentials WHERE expires_at < ? ORDER BY expires_at`

func (q *Queries) ListCredentialsExpiringBefore(ctx context.Context, before int64) ([]Credential, error) {
	rows, err := q.db.QueryContext(ctx, listCredentialsExpiringBefore, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}
