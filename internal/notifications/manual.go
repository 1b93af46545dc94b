package notifications

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// ErrDisabled is returned by the manual entry points for users who turned
// notifications off.
var ErrDisabled = errors.New("notifications disabled for user")

// CheckUserExpiry evaluates one user's expiring and expired items right now,
// ignoring the notification time and quiet hours. The dedup guard still
// applies.
func (n *Notifier) CheckUserExpiry(ctx context.Context, userID string) (UserResult, error) {
	pref, err := n.prefs.Preference(ctx, userID)
	if err != nil {
		return UserResult{UserID: userID}, fmt.Errorf("load preference: %w", err)
	}
	if !pref.Enabled {
		return UserResult{UserID: userID, Skipped: true}, ErrDisabled
	}
	res := n.ProcessUser(ctx, *pref, SweepManual, n.now())
	n.log.Info("manual expiry check",
		zap.String("user_id", userID),
		zap.Int("sent", res.Sent), zap.Int("failed", res.Failed),
		zap.Int("suppressed", res.Suppressed), zap.Bool("skipped", res.Skipped))
	return res, nil
}

// SendTestNotification pushes the catalog test message to every device of
// the user and logs it under the test category. It is not deduplicated.
func (n *Notifier) SendTestNotification(ctx context.Context, userID string) (Outcome, error) {
	if _, err := n.prefs.Preference(ctx, userID); err != nil {
		return Outcome{}, fmt.Errorf("load preference: %w", err)
	}
	out := n.dispatch.SendPush(ctx, userID, n.catalog.TestPayload())
	if err := n.record.Record(ctx, userID, nil, domain.CategoryTest, n.now(), out); err != nil {
		return out, err
	}
	return out, nil
}
