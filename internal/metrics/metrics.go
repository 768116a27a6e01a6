// Package metrics содержит метрики Prometheus сервиса лотереи.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метки исхода ответа на приглашение.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDeclined  = "declined"
	OutcomeCancelled = "cancelled"
	OutcomeUnknown   = "unknown_invitee"
)

// Метки результата отправки уведомления.
const (
	ResultSent      = "sent"
	ResultThrottled = "throttled"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Metrics объединяет коллекторы сервиса.
type Metrics struct {
	DrawsTotal         prometheus.Counter
	InvitationsTotal   prometheus.Counter
	StaleDrawsTotal    prometheus.Counter
	ResponsesTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	ActiveEngines      prometheus.Gauge
}

// New регистрирует коллекторы в указанном реестре.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DrawsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lottery_draws_total",
			Help: "Total number of lottery draw requests.",
		}),
		InvitationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lottery_invitations_total",
			Help: "Total number of candidates invited by draws.",
		}),
		StaleDrawsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lottery_stale_draws_total",
			Help: "Drawn candidates that had already left the waiting list.",
		}),
		ResponsesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_responses_total",
			Help: "Invitation responses, by outcome.",
		}, []string{"outcome"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_notifications_total",
			Help: "Notification delivery attempts, by result.",
		}, []string{"result"}),
		ActiveEngines: f.NewGauge(prometheus.GaugeOpts{
			Name: "lottery_active_engines",
			Help: "Allocation engines currently held in memory.",
		}),
	}
}

// NewNop создаёт метрики, не привязанные к глобальному реестру.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RecordResponse учитывает ответ на приглашение.
func (m *Metrics) RecordResponse(outcome string) {
	m.ResponsesTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification учитывает попытку отправки уведомления.
func (m *Metrics) RecordNotification(result string) {
	m.NotificationsTotal.WithLabelValues(result).Inc()
}
