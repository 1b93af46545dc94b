package email

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	bodies [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.err
}

func testPref() domain.Preference {
	p := domain.DefaultPreference("u1", "UTC")
	p.Email = "cook@example.com"
	p.Name = "Sam"
	return p
}

func TestSendDailyExpiryEmail_PublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub, 0, 1, zap.NewNop())
	exp, err := domain.ParseDate("2024-03-13")
	require.NoError(t, err)

	ok := svc.SendDailyExpiryEmail(context.Background(), testPref(), []domain.Item{
		{ID: "a", Name: "Milk", ExpirationDate: exp, Quantity: 1.5, Unit: "l"},
	})
	require.True(t, ok)
	require.Len(t, pub.bodies, 1)

	var job Job
	require.NoError(t, json.Unmarshal(pub.bodies[0], &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, TemplateDailyExpiry, job.TemplateID)
	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, "cook@example.com", job.To)
	assert.Equal(t, "Sam", job.Name)
	assert.Equal(t, []ItemSummary{{ID: "a", Name: "Milk", ExpirationDate: "2024-03-13", Quantity: 1.5, Unit: "l"}}, job.Items)
}

func TestSendWeeklyExpiryEmail_Template(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub, 100, 5, zap.NewNop())

	require.True(t, svc.SendWeeklyExpiryEmail(context.Background(), testPref(), nil))

	var job Job
	require.NoError(t, json.Unmarshal(pub.bodies[0], &job))
	assert.Equal(t, TemplateWeeklyExpiry, job.TemplateID)
	assert.Empty(t, job.Items)
}

func TestSend_NoAddress(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub, 0, 1, zap.NewNop())
	p := testPref()
	p.Email = ""

	assert.False(t, svc.SendDailyExpiryEmail(context.Background(), p, nil))
	assert.Empty(t, pub.bodies)
}

func TestSend_BreakerOpensAfterFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	svc := NewService(pub, 0, 1, zap.NewNop())

	for i := 0; i < 5; i++ {
		assert.False(t, svc.SendDailyExpiryEmail(context.Background(), testPref(), nil))
	}
	// Three failures trip the breaker; later calls never reach the publisher.
	assert.Len(t, pub.bodies, 3)
}

func TestSend_CanceledContext(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub, 0.001, 1, zap.NewNop())
	require.True(t, svc.SendDailyExpiryEmail(context.Background(), testPref(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, svc.SendDailyExpiryEmail(ctx, testPref(), nil))
	assert.Len(t, pub.bodies, 1)
}
