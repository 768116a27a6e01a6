package service

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/event-lottery/internal/metrics"
	"github.com/mmeshcher/event-lottery/internal/notify"
)

const (
	notificationBatchSize   = 100
	maxNotificationAttempts = 5
	dispatchInterval        = time.Second
)

// StartNotificationDispatch отправляет накопленные уведомления до отмены контекста.
// Без настроенного клиента доставки сразу возвращает управление.
func (s *Service) StartNotificationDispatch(ctx context.Context) {
	if s.sender == nil {
		return
	}

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processNotificationBatch(ctx)
		}
	}
}

func (s *Service) processNotificationBatch(ctx context.Context) {
	pending, err := s.repo.GetPendingNotifications(ctx, notificationBatchSize, maxNotificationAttempts)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("load pending notifications", zap.Error(err))
		}
		return
	}

	for _, n := range pending {
		text, err := s.renderer.Render(s.locale, n.Kind, n.EventTitle)
		if err != nil {
			s.logger.Error("render notification", zap.Error(err), zap.String("kind", string(n.Kind)))
			s.metrics.RecordNotification(metrics.ResultDropped)
			s.markFailed(ctx, n.ID)
			continue
		}

		code, retryAfter, err := s.sender.Send(ctx, notify.Message{
			ID:        n.ID,
			EventID:   n.EventID,
			Recipient: string(n.Candidate),
			Kind:      string(n.Kind),
			Text:      text,
		})
		if err != nil {
			s.logger.Warn("send notification", zap.Error(err), zap.String("id", n.ID.String()))
			s.metrics.RecordNotification(metrics.ResultFailed)
			s.markFailed(ctx, n.ID)
			continue
		}

		if code == http.StatusTooManyRequests {
			s.metrics.RecordNotification(metrics.ResultThrottled)
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if err := s.repo.MarkNotificationSent(ctx, n.ID); err != nil {
			s.logger.Error("mark notification sent", zap.Error(err), zap.String("id", n.ID.String()))
			continue
		}
		s.metrics.RecordNotification(metrics.ResultSent)
	}
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID) {
	if err := s.repo.MarkNotificationFailed(ctx, id); err != nil && ctx.Err() == nil {
		s.logger.Error("mark notification failed", zap.Error(err), zap.String("id", id.String()))
	}
}
