package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// DeliveryLogger persists dispatch outcomes. An attempt counts as delivered
// when at least one target succeeded. Rows are stamped with the instant the
// user was evaluated at, which keeps them comparable with the dedup window.
type DeliveryLogger struct {
	logs LogStore
}

func NewDeliveryLogger(logs LogStore) *DeliveryLogger {
	return &DeliveryLogger{logs: logs}
}

// Record writes one row per contributing item, or a single item-less row when
// itemIDs is empty.
func (l *DeliveryLogger) Record(ctx context.Context, userID string, itemIDs []string, category domain.Category, at time.Time, o Outcome) error {
	sentAt := at.UTC()
	ok := o.Success()
	errMsg := o.ErrorMessage()

	row := func(itemID *string) domain.DeliveryLogEntry {
		return domain.DeliveryLogEntry{
			ID:           uuid.NewString(),
			UserID:       userID,
			ItemID:       itemID,
			Category:     category,
			SentAt:       sentAt,
			Success:      ok,
			ErrorMessage: errMsg,
		}
	}

	var entries []domain.DeliveryLogEntry
	if len(itemIDs) == 0 {
		entries = append(entries, row(nil))
	}
	for _, id := range itemIDs {
		id := id
		entries = append(entries, row(&id))
	}
	if err := l.logs.InsertDeliveries(ctx, entries); err != nil {
		return fmt.Errorf("record %s: %w", category, err)
	}
	return nil
}

// RecordDaily writes the per-day row for a reminder or digest plus the
// matching delivery log row.
func (l *DeliveryLogger) RecordDaily(ctx context.Context, userID string, reminderType domain.ReminderType, category domain.Category, itemIDs []string, localDate, at time.Time, o Outcome) error {
	entry := domain.DailyReminderLogEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		ReminderType: reminderType,
		SentDate:     domain.Date(localDate),
		Success:      o.Success(),
		SentAt:       at.UTC(),
	}
	if err := l.logs.InsertReminderLog(ctx, entry); err != nil {
		return fmt.Errorf("record reminder %s: %w", reminderType, err)
	}
	return l.Record(ctx, userID, itemIDs, category, at, o)
}
