package notifications

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// Deps are the collaborators a Notifier needs. Email and Locker may be nil.
type Deps struct {
	Preferences PreferenceStore
	Inventory   InventoryStore
	Logs        LogStore
	Push        PushSender
	Email       EmailSender
	Locker      Locker
	Logger      *zap.Logger
}

// Options tune a Notifier. Zero values select defaults.
type Options struct {
	DefaultTZ   string
	DedupWindow time.Duration
	Workers     int
	Catalog     *Catalog
	Now         func() time.Time
}

// Notifier evaluates and delivers notifications for all users.
type Notifier struct {
	prefs    PreferenceStore
	locker   Locker
	log      *zap.Logger
	now      func() time.Time
	window   time.Duration
	workers  int
	catalog  *Catalog
	resolver *Resolver
	query    *ExpiryQuery
	guard    *Guard
	dispatch *Dispatcher
	record   *DeliveryLogger
}

// New wires a Notifier.
func New(deps Deps, opts Options) *Notifier {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "notifications"))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.Workers < 1 {
		opts.Workers = defaultSweepWorkers
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	locker := deps.Locker
	if locker == nil {
		locker = noLock{}
	}
	return &Notifier{
		prefs:    deps.Preferences,
		locker:   locker,
		log:      log,
		now:      now,
		window:   opts.DedupWindow,
		workers:  opts.Workers,
		catalog:  opts.Catalog,
		resolver: NewResolver(opts.DefaultTZ),
		query:    NewExpiryQuery(deps.Inventory, log),
		guard:    NewGuard(deps.Logs),
		dispatch: NewDispatcher(deps.Push, deps.Email),
		record:   NewDeliveryLogger(deps.Logs),
	}
}

// Sweep evaluates every enabled user once. All users are evaluated against
// the instant the sweep started, so a slow sweep does not slide users out of
// their window. One user's failure never stops the others.
func (n *Notifier) Sweep(ctx context.Context, kind SweepKind) SweepResult {
	start := n.now()
	result := SweepResult{Kind: kind}

	prefs, err := n.prefs.EnabledPreferences(ctx)
	if err != nil {
		n.log.Error("load preferences failed", zap.String("sweep", string(kind)), zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("load preferences: %v", err))
		result.Duration = n.now().Sub(start)
		return result
	}
	if len(prefs) == 0 {
		n.log.Debug("no enabled users", zap.String("sweep", string(kind)))
		result.Duration = n.now().Sub(start)
		return result
	}

	workers := min(n.workers, len(prefs))
	ch := make(chan domain.Preference, len(prefs))
	for _, p := range prefs {
		ch <- p
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pref := range ch {
				r := n.ProcessUser(ctx, pref, kind, start)
				mu.Lock()
				result.add(r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	result.Duration = n.now().Sub(start)
	n.log.Info("sweep complete",
		zap.String("sweep", string(kind)),
		zap.Int("users", result.Users),
		zap.Int("skipped", result.Skipped),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result
}

// ProcessUser runs one user's evaluation for a sweep kind at instant now.
// Concurrent calls for the same user and kind are collapsed: the later one
// is skipped.
func (n *Notifier) ProcessUser(ctx context.Context, pref domain.Preference, kind SweepKind, now time.Time) UserResult {
	res := UserResult{UserID: pref.UserID}
	if !pref.Enabled {
		res.Skipped = true
		return res
	}

	release, ok, err := n.locker.TryAcquire(ctx, lockKey(kind, pref.UserID))
	if err != nil {
		n.log.Warn("sweep lock failed", zap.String("user_id", pref.UserID), zap.Error(err))
		res.Skipped = true
		res.Errors = append(res.Errors, fmt.Sprintf("user %s: lock: %v", pref.UserID, err))
		return res
	}
	if !ok {
		n.log.Debug("user already being processed",
			zap.String("user_id", pref.UserID), zap.String("sweep", string(kind)))
		res.Skipped = true
		return res
	}
	defer release()

	lt := n.resolver.Resolve(pref.Timezone, now)

	switch kind {
	case SweepFine:
		if InExpiryWindow(&pref, lt) {
			n.notifyExpiry(ctx, &pref, lt, &res)
		}
		n.sendReminders(ctx, &pref, lt, &res)
		if InEmailWindow(lt) {
			n.sendEmails(ctx, &pref, lt, &res)
		}
	case SweepDaily:
		// Catch-up for users whose window tick was missed; dedup keeps it
		// from repeating what the fine sweep already sent.
		if !InQuietHours(&pref, lt) {
			n.notifyExpiry(ctx, &pref, lt, &res)
		}
	case SweepManual:
		n.notifyExpiry(ctx, &pref, lt, &res)
	}
	return res
}

// notifyExpiry sends one alert per threshold for items not yet alerted and
// one aggregated alert for expired items.
func (n *Notifier) notifyExpiry(ctx context.Context, pref *domain.Preference, lt LocalTime, res *UserResult) {
	days := domain.NormalizeDays(pref.DaysBeforeExpiry)
	q := n.query.Run(ctx, pref.UserID, days, lt.Date)
	for _, e := range q.Errors {
		res.Errors = append(res.Errors, fmt.Sprintf("user %s: %s", pref.UserID, e))
	}

	for _, d := range days {
		items := q.ExpiringByThreshold[d]
		if len(items) == 0 {
			continue
		}
		unsent, err := n.guard.UnsentItems(ctx, pref.UserID, items, domain.CategoryExpiry, lt.Time, n.window)
		if err != nil {
			n.fail(res, pref.UserID, err)
			continue
		}
		if len(unsent) == 0 {
			res.Suppressed++
			continue
		}
		out := n.dispatch.SendPush(ctx, pref.UserID, n.catalog.ExpiryPayload(d, unsent))
		n.finish(ctx, res, pref.UserID, domain.ItemIDs(unsent), domain.CategoryExpiry, lt.Time, out)
	}

	if len(q.Expired) == 0 {
		return
	}
	ids := domain.ItemIDs(q.Expired)
	sent, err := n.guard.HasBeenSent(ctx, pref.UserID, ids, domain.CategoryExpired, lt.Time, n.window)
	if err != nil {
		n.fail(res, pref.UserID, err)
		return
	}
	if sent {
		res.Suppressed++
		return
	}
	out := n.dispatch.SendPush(ctx, pref.UserID, n.catalog.ExpiredPayload(q.Expired))
	n.finish(ctx, res, pref.UserID, ids, domain.CategoryExpired, lt.Time, out)
}

// sendReminders delivers every enabled reminder whose window is open and
// which has not been logged for the local date.
func (n *Notifier) sendReminders(ctx context.Context, pref *domain.Preference, lt LocalTime, res *UserResult) {
	types := make([]domain.ReminderType, 0, len(pref.DailyReminders))
	for t := range pref.DailyReminders {
		types = append(types, t)
	}
	slices.Sort(types)

	for _, t := range types {
		cfg := pref.DailyReminders[t]
		if !cfg.Enabled || !InReminderWindow(cfg, lt) {
			continue
		}
		sent, err := n.guard.ReminderSent(ctx, pref.UserID, t, lt.Date)
		if err != nil {
			n.fail(res, pref.UserID, err)
			continue
		}
		if sent {
			res.Suppressed++
			continue
		}
		out := n.dispatch.SendPush(ctx, pref.UserID, n.catalog.ReminderPayload(t, cfg))
		res.addOutcome(out)
		if err := n.record.RecordDaily(ctx, pref.UserID, t, domain.ReminderCategory(t), nil, lt.Date, lt.Time, out); err != nil {
			n.fail(res, pref.UserID, err)
		}
	}
}

// sendEmails delivers the daily and weekly digests that are due.
func (n *Notifier) sendEmails(ctx context.Context, pref *domain.Preference, lt LocalTime, res *UserResult) {
	if pref.EmailDailyExpiry {
		items := n.query.Run(ctx, pref.UserID, domain.NormalizeDays(pref.DaysBeforeExpiry), lt.Date).All()
		n.sendEmail(ctx, pref, domain.EmailDaily, items, lt, res)
	}
	if pref.EmailWeeklySummary && InWeeklyEmailWindow(lt) {
		week := make([]int, 0, weeklyDigestDays+1)
		for d := 0; d <= weeklyDigestDays; d++ {
			week = append(week, d)
		}
		items := n.query.Run(ctx, pref.UserID, week, lt.Date).All()
		n.sendEmail(ctx, pref, domain.EmailWeekly, items, lt, res)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, pref *domain.Preference, kind domain.EmailKind, items []domain.Item, lt LocalTime, res *UserResult) {
	if len(items) == 0 {
		return
	}
	sent, err := n.guard.EmailSent(ctx, pref, kind, lt)
	if err != nil {
		n.fail(res, pref.UserID, err)
		return
	}
	if sent {
		res.Suppressed++
		return
	}

	category := domain.EmailCategory(kind)
	out := n.dispatch.SendEmail(ctx, kind, *pref, items)
	res.addOutcome(out)
	if err := n.record.RecordDaily(ctx, pref.UserID, domain.ReminderType(category), category, domain.ItemIDs(items), lt.Date, lt.Time, out); err != nil {
		n.fail(res, pref.UserID, err)
	}
	if out.Success() {
		if err := n.prefs.UpdateLastEmailSent(ctx, pref.UserID, kind, n.now().UTC()); err != nil {
			n.fail(res, pref.UserID, err)
		}
	}
}

// finish logs a dispatched notification and counts it.
func (n *Notifier) finish(ctx context.Context, res *UserResult, userID string, itemIDs []string, category domain.Category, at time.Time, out Outcome) {
	res.addOutcome(out)
	if !out.Success() {
		n.log.Info("notification not delivered",
			zap.String("user_id", userID), zap.String("category", string(category)),
			zap.Int("targets", len(out.Results)))
	}
	if err := n.record.Record(ctx, userID, itemIDs, category, at, out); err != nil {
		n.fail(res, userID, err)
	}
}

func (n *Notifier) fail(res *UserResult, userID string, err error) {
	n.log.Warn("user evaluation step failed", zap.String("user_id", userID), zap.Error(err))
	res.Errors = append(res.Errors, fmt.Sprintf("user %s: %v", userID, err))
}

func lockKey(kind SweepKind, userID string) string {
	return string(kind) + ":" + userID
}

type noLock struct{}

func (noLock) TryAcquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}
