package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Service fans payloads out over a Transport.
type Service struct {
	subs      SubscriptionStore
	transport Transport
	limit     int
	log       *zap.Logger
}

// NewService creates a push service sending to at most concurrency endpoints
// at once.
func NewService(subs SubscriptionStore, transport Transport, concurrency int, log *zap.Logger) *Service {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Service{subs: subs, transport: transport, limit: concurrency, log: log.With(zap.String("component", "push"))}
}

// SendToUser sends payload to every subscription of userID and returns one
// result per endpoint once all of them have finished. Subscriptions reported
// gone are deleted.
func (s *Service) SendToUser(ctx context.Context, userID string, payload Payload) []DeviceResult {
	subs, err := s.subs.PushSubscriptions(ctx, userID)
	if err != nil {
		return []DeviceResult{{Err: fmt.Errorf("list subscriptions: %w", err)}}
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return []DeviceResult{{Err: fmt.Errorf("encode payload: %w", err)}}
	}

	results := make([]DeviceResult, len(subs))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			err := s.transport.Send(ctx, sub, body, payload.RequireInteraction)
			results[i] = DeviceResult{TargetID: sub.ID, Success: err == nil, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err == nil {
			continue
		}
		s.log.Debug("push endpoint failed",
			zap.String("user_id", userID), zap.String("subscription_id", r.TargetID), zap.Error(r.Err))
		if errors.Is(r.Err, ErrSubscriptionGone) {
			if err := s.subs.DeleteSubscription(ctx, r.TargetID); err != nil {
				s.log.Warn("delete gone subscription failed",
					zap.String("subscription_id", r.TargetID), zap.Error(err))
			}
		}
	}
	return results
}
