package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/fitnerd/internal/config"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/strava"
	"github.com/joshdurbin/fitnerd/internal/webhook"
	"github.com/spf13/cobra"
)

var unsubscribeID int64

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Register STRAVA_CB_URL for activity webhook events",
	Long: `Registers the webhook callback with Strava and stores the subscription id.
Strava verifies the callback before answering, so "fitnerd serve" must already be
reachable at STRAVA_CB_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSubscriptions(cmd.Context(), func(ctx context.Context, s *subscriptions) error {
			id, err := s.create(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Subscribed, subscription id %d\n", id)
			return nil
		})
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Delete the stored webhook subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSubscriptions(cmd.Context(), func(ctx context.Context, s *subscriptions) error {
			id, err := s.delete(ctx, unsubscribeID)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted subscription %d\n", id)
			return nil
		})
	},
}

func init() {
	unsubscribeCmd.Flags().Int64Var(&unsubscribeID, "id", 0, "subscription id to delete when none is stored locally")
}

// subscriptions keeps the upstream push subscription and the stored id in step.
type subscriptions struct {
	cfg     *config.Strava
	client  *strava.Client
	queries *db.Queries
}

func withSubscriptions(ctx context.Context, fn func(context.Context, *subscriptions) error) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := cfg.RequireWebhook(); err != nil {
		return fmt.Errorf("webhook configuration: %w", err)
	}
	sqlDB, err := openDatabase(ctx, dbPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return fn(ctx, &subscriptions{
		cfg:     cfg,
		client:  strava.NewClient(cfg.APIURL, strava.DefaultRetryConfig()),
		queries: db.New(sqlDB),
	})
}

func (s *subscriptions) creds() strava.AppCredentials {
	return strava.AppCredentials{ClientID: s.cfg.ClientID, ClientSecret: s.cfg.ClientSecret}
}

func (s *subscriptions) create(ctx context.Context) (int64, error) {
	if existing, err := s.queries.GetWebhookSubscription(ctx, webhook.ServiceName); err == nil {
		logging.Logger.Warn().
			Int64("subscription_id", existing.SubscriptionID).
			Time("created_at", time.Unix(existing.CreatedAt, 0)).
			Msg("replacing stored webhook subscription")
	} else if !errors.Is(err, db.ErrNotFound) {
		return 0, err
	}

	id, err := s.client.CreateSubscription(ctx, s.creds(), s.cfg.CallbackURL, s.cfg.VerifyToken)
	if err != nil {
		return 0, err
	}
	if err := s.queries.SaveWebhookSubscription(ctx, webhook.ServiceName, id); err != nil {
		return 0, fmt.Errorf("saving subscription %d: %w", id, err)
	}
	logging.Logger.Info().Int64("subscription_id", id).Str("callback_url", s.cfg.CallbackURL).Msg("webhook subscription created")
	return id, nil
}

// delete removes the stored subscription, or id when nothing is stored.
func (s *subscriptions) delete(ctx context.Context, id int64) (int64, error) {
	stored, err := s.queries.GetWebhookSubscription(ctx, webhook.ServiceName)
	switch {
	case err == nil:
		if id != 0 && id != stored.SubscriptionID {
			return 0, fmt.Errorf("subscription %d does not match stored subscription %d", id, stored.SubscriptionID)
		}
		id = stored.SubscriptionID
	case errors.Is(err, db.ErrNotFound):
		if id == 0 {
			return 0, errors.New("no stored webhook subscription, pass --id")
		}
	default:
		return 0, err
	}

	if err := s.client.DeleteSubscription(ctx, s.creds(), id); err != nil {
		return 0, err
	}
	if err := s.queries.DeleteWebhookSubscription(ctx, webhook.ServiceName); err != nil {
		return 0, fmt.Errorf("removing stored subscription: %w", err)
	}
	logging.Logger.Info().Int64("subscription_id", id).Msg("webhook subscription deleted")
	return id, nil
}
