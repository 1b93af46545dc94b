package notifications

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// ExpiryResult is what the expiry query found for one user.
type ExpiryResult struct {
	ExpiringByThreshold map[int][]domain.Item
	Expired             []domain.Item
	Errors              []string
}

// All returns every item found, expiring ones first by threshold, then the
// expired ones, without duplicates.
func (r ExpiryResult) All() []domain.Item {
	days := make([]int, 0, len(r.ExpiringByThreshold))
	for d := range r.ExpiringByThreshold {
		days = append(days, d)
	}
	sort.Ints(days)

	seen := make(map[string]bool)
	var out []domain.Item
	add := func(items []domain.Item) {
		for _, it := range items {
			if !seen[it.ID] {
				seen[it.ID] = true
				out = append(out, it)
			}
		}
	}
	for _, d := range days {
		add(r.ExpiringByThreshold[d])
	}
	add(r.Expired)
	return out
}

// ExpiryQuery turns "days before expiry" thresholds into inventory lookups.
type ExpiryQuery struct {
	inventory InventoryStore
	log       *zap.Logger
}

func NewExpiryQuery(inventory InventoryStore, log *zap.Logger) *ExpiryQuery {
	return &ExpiryQuery{inventory: inventory, log: log}
}

// Run looks up items expiring exactly today+d for each threshold d and the
// items that expired before today. A failed lookup is logged and treated as
// empty; the other lookups still run.
func (q *ExpiryQuery) Run(ctx context.Context, userID string, days []int, today time.Time) ExpiryResult {
	res := ExpiryResult{ExpiringByThreshold: make(map[int][]domain.Item, len(days))}
	today = domain.Date(today)

	for _, d := range days {
		target := today.AddDate(0, 0, d)
		items, err := q.inventory.ExpiringOn(ctx, userID, target)
		if err != nil {
			q.log.Warn("expiring items query failed",
				zap.String("user_id", userID), zap.Int("days", d), zap.Error(err))
			res.Errors = append(res.Errors, "expiring "+target.Format(domain.DateLayout)+": "+err.Error())
			continue
		}
		if len(items) > 0 {
			res.ExpiringByThreshold[d] = items
		}
	}

	expired, err := q.inventory.ExpiredBefore(ctx, userID, today)
	if err != nil {
		q.log.Warn("expired items query failed", zap.String("user_id", userID), zap.Error(err))
		res.Errors = append(res.Errors, "expired: "+err.Error())
	} else {
		res.Expired = expired
	}
	return res
}
