package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
)

// RemoveUserData deletes every stored activity for the user and clears the
// initial-download flag so the next sync is a full one. When the user has
// revoked access upstream the credential is dropped and the user is marked
// unverified as well. It all happens in one transaction.
func RemoveUserData(ctx context.Context, sqlDB *sql.DB, userID int64, deauthorized bool) (int64, error) {
	var removed int64
	err := db.Tx(ctx, sqlDB, func(q *db.Queries) error {
		n, err := q.DeleteUserActivities(ctx, userID)
		if err != nil {
			return fmt.Errorf("deleting activities: %w", err)
		}
		removed = n
		if err := q.SetInitialDownloadDone(ctx, userID, false); err != nil {
			return fmt.Errorf("clearing initial download: %w", err)
		}
		if err := q.SetColorPalette(ctx, userID, "{}"); err != nil {
			return fmt.Errorf("clearing palette: %w", err)
		}
		if !deauthorized {
			return nil
		}
		if err := q.DeleteCredential(ctx, userID); err != nil {
			return fmt.Errorf("deleting credential: %w", err)
		}
		if err := q.SetVerified(ctx, userID, false); err != nil {
			return fmt.Errorf("clearing verified: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.ForUser(userID).Info().
		Int64("activities", removed).
		Bool("deauthorized", deauthorized).
		Msg("user data removed")
	return removed, nil
}
