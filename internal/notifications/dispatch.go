package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/push"
)

const emailTarget = "email"

var errEmailFailed = errors.New("email send failed")

// Outcome aggregates per-target results of one logical notification.
type Outcome struct {
	Results   []push.DeviceResult
	Successes int
	Failures  int
}

func newOutcome(results []push.DeviceResult) Outcome {
	o := Outcome{Results: results}
	for _, r := range results {
		if r.Success {
			o.Successes++
		} else {
			o.Failures++
		}
	}
	return o
}

// Success reports whether at least one target received the notification.
func (o Outcome) Success() bool { return o.Successes > 0 }

// ErrorMessage summarizes distinct target errors, or nil when none failed.
// An outcome with no targets at all reports the missing subscriptions.
func (o Outcome) ErrorMessage() *string {
	if len(o.Results) == 0 {
		msg := push.ErrNoSubscriptions.Error()
		return &msg
	}
	var msgs []string
	seen := make(map[string]bool)
	for _, r := range o.Results {
		if r.Err == nil {
			continue
		}
		m := r.Err.Error()
		if r.TargetID != "" && r.TargetID != emailTarget {
			m = r.TargetID + ": " + m
		}
		if !seen[m] {
			seen[m] = true
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	msg := strings.Join(msgs, "; ")
	return &msg
}

// Dispatcher hands logical notifications to the channel collaborators.
type Dispatcher struct {
	push  PushSender
	email EmailSender
}

func NewDispatcher(p PushSender, e EmailSender) *Dispatcher {
	return &Dispatcher{push: p, email: e}
}

// SendPush fans payload out to all of the user's devices. It returns after
// every device has reported.
func (d *Dispatcher) SendPush(ctx context.Context, userID string, payload push.Payload) Outcome {
	if d.push == nil {
		return Outcome{}
	}
	return newOutcome(d.push.SendToUser(ctx, userID, payload))
}

// SendEmail sends one digest email.
func (d *Dispatcher) SendEmail(ctx context.Context, kind domain.EmailKind, pref domain.Preference, items []domain.Item) Outcome {
	ok := false
	if d.email != nil {
		if kind == domain.EmailWeekly {
			ok = d.email.SendWeeklyExpiryEmail(ctx, pref, items)
		} else {
			ok = d.email.SendDailyExpiryEmail(ctx, pref, items)
		}
	}
	r := push.DeviceResult{TargetID: emailTarget, Success: ok}
	if !ok {
		r.Err = errEmailFailed
	}
	return newOutcome([]push.DeviceResult{r})
}
