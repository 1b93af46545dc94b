package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// WebPush sends VAPID-signed, encrypted messages to browser push services.
type WebPush struct {
	opts webpush.Options
}

// NewWebPush configures a transport. ttl is the push service retention in
// seconds.
func NewWebPush(subscriber, publicKey, privateKey string, ttl int) *WebPush {
	return &WebPush{opts: webpush.Options{
		HTTPClient:      &http.Client{Timeout: 15 * time.Second},
		Subscriber:      subscriber,
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		TTL:             ttl,
		Urgency:         webpush.UrgencyNormal,
	}}
}

func (w *WebPush) Send(ctx context.Context, sub domain.PushSubscription, body []byte, urgent bool) error {
	opts := w.opts
	if urgent {
		opts.Urgency = webpush.UrgencyHigh
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &opts)
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
