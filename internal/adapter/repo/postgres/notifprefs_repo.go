package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// NotifPrefsRepo implements domain.NotificationPreferences against a
// per-user, per-event opt-in table. A user with no row is treated as
// opted-in, matching spec.md §5's default-on notification behavior.
type NotifPrefsRepo struct{ Pool PgxPool }

// NewNotifPrefsRepo constructs a NotifPrefsRepo with the given pool.
func NewNotifPrefsRepo(p PgxPool) *NotifPrefsRepo { return &NotifPrefsRepo{Pool: p} }

// Enabled reports whether userID has notifications enabled for event.
func (r *NotifPrefsRepo) Enabled(ctx domain.Context, userID, event string) (bool, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT enabled FROM notification_preferences WHERE user_id=$1 AND event=$2`,
		userID, event)
	var enabled bool
	if err := row.Scan(&enabled); err != nil {
		if err == pgx.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("op=notifprefs.enabled: %w", err)
	}
	return enabled, nil
}
