package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mmeshcher/event-lottery/internal/metrics"
	"github.com/mmeshcher/event-lottery/internal/model"
	"github.com/mmeshcher/event-lottery/internal/notify"
)

type stubSender struct {
	mu       sync.Mutex
	code     int
	err      error
	messages []notify.Message
}

func (s *stubSender) Send(ctx context.Context, msg notify.Message) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.code, 0, nil
}

func (s *stubSender) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}

func setupNotifications(t *testing.T, sender Sender, renderer Renderer) (*Service, *fakeRepo, *metrics.Metrics) {
	t.Helper()
	repo := newFakeRepo()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(repo, sender, renderer, nil, m, WithLocale("fr"))

	ctx := context.Background()
	id, err := svc.CreateEvent(ctx, organizer, "Jazz night", 1, 0)
	require.NoError(t, err)
	require.NoError(t, svc.JoinWaitlist(ctx, id, model.Entrant{Candidate: "a"}))
	_, err = svc.RunLottery(ctx, id, organizer, 1)
	require.NoError(t, err)
	return svc, repo, m
}

func pendingCount(t *testing.T, repo *fakeRepo) int {
	t.Helper()
	pending, err := repo.GetPendingNotifications(context.Background(), notificationBatchSize, maxNotificationAttempts)
	require.NoError(t, err)
	return len(pending)
}

func TestProcessNotificationBatch_Sent(t *testing.T) {
	sender := &stubSender{code: http.StatusAccepted}
	svc, repo, m := setupNotifications(t, sender, stubRenderer{})

	svc.processNotificationBatch(context.Background())

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a", sent[0].Recipient)
	assert.Equal(t, string(model.NotificationInvited), sent[0].Kind)
	assert.Equal(t, "fr:INVITED:Jazz night", sent[0].Text)
	assert.Equal(t, 0, pendingCount(t, repo))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.ResultSent)))
}

func TestProcessNotificationBatch_Throttled(t *testing.T) {
	sender := &stubSender{code: http.StatusTooManyRequests}
	svc, repo, m := setupNotifications(t, sender, stubRenderer{})

	svc.processNotificationBatch(context.Background())

	assert.Equal(t, 1, pendingCount(t, repo))
	assert.Equal(t, 0, repo.notifications[0].Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.ResultThrottled)))
}

func TestProcessNotificationBatch_FailedUntilMaxAttempts(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused")}
	svc, repo, m := setupNotifications(t, sender, stubRenderer{})

	for range maxNotificationAttempts + 2 {
		svc.processNotificationBatch(context.Background())
	}

	assert.Len(t, sender.sent(), maxNotificationAttempts)
	assert.Equal(t, 0, pendingCount(t, repo))
	assert.Equal(t, float64(maxNotificationAttempts),
		testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.ResultFailed)))
}

func TestProcessNotificationBatch_RenderError(t *testing.T) {
	sender := &stubSender{code: http.StatusOK}
	svc, repo, m := setupNotifications(t, sender, stubRenderer{err: errors.New("no template")})

	svc.processNotificationBatch(context.Background())

	assert.Empty(t, sender.sent())
	assert.Equal(t, 1, repo.notifications[0].Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.ResultDropped)))
}

func TestProcessNotificationBatch_LoadError(t *testing.T) {
	sender := &stubSender{code: http.StatusOK}
	svc, repo, _ := setupNotifications(t, sender, stubRenderer{})
	repo.pendingErr = errors.New("pool closed")

	svc.processNotificationBatch(context.Background())

	assert.Empty(t, sender.sent())
}

func TestStartNotificationDispatch_WithoutSender(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, stubRenderer{}, nil, nil)

	done := make(chan struct{})
	go func() {
		svc.StartNotificationDispatch(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch without sender must return immediately")
	}
}

func TestStartNotificationDispatch_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sender := &stubSender{code: http.StatusOK}
	svc, repo, _ := setupNotifications(t, sender, stubRenderer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartNotificationDispatch(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, 0, pendingCount(t, repo))

	cancel()
	<-done
}
