package db

import (
	"context"
	"time"
)

const getWebhookSubscription = `-- name: GetWebhookSubscription :one
SELECT service, subscription_id, created_at FROM webhook_subscriptions WHERE service = ?`

func (q *Queries) GetWebhookSubscription(ctx context.Context, service string) (WebhookSubscription, error) {
	var s WebhookSubscription
	err := q.db.QueryRowContext(ctx, getWebhookSubscription, service).Scan(&s.Service, &s.SubscriptionID, &s.CreatedAt)
	return s, notFound(err)
}

const saveWebhookSubscription = `-- name: SaveWebhookSubscription :exec
INSERT INTO webhook_subscriptions (service, subscription_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (service) DO UPDATE SET
    subscription_id = excluded.subscription_id,
    created_at = excluded.created_at`

func (q *Queries) SaveWebhookSubscription(ctx context.Context, service string, subscriptionID int64) error {
	_, err := q.db.ExecContext(ctx, saveWebhookSubscription, service, subscriptionID, time.Now().Unix())
	return err
}

const deleteWebhookSubscription = `-- name: DeleteWebhookSubscription :exec
DELETE FROM webhook_subscriptions WHERE service = ?`

func (q *Queries) DeleteWebhookSubscription(ctx context.Context, service string) error {
	_, err := q.db.ExecContext(ctx, deleteWebhookSubscription, service)
	return err
}
