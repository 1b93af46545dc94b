package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// browserSubscription returns a subscription with valid client keys pointing
// at endpoint.
func browserSubscription(t *testing.T, endpoint string) domain.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return domain.PushSubscription{
		ID:       "sub-1",
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestWebPush(t *testing.T) *WebPush {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewWebPush("ops@example.com", pub, priv, 60)
}

func TestWebPush_Send(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
		errText string
	}{
		{name: "created", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, wantErr: ErrSubscriptionGone},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrSubscriptionGone},
		{name: "rate limited", status: http.StatusTooManyRequests, errText: "push service returned 429"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var urgency string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				urgency = r.Header.Get("Urgency")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestWebPush(t).Send(context.Background(), browserSubscription(t, srv.URL), []byte(`{"title":"x"}`), true)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				assert.EqualError(t, err, tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, "high", urgency)
			}
		})
	}
}
