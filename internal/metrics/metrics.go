package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-bot/internal/models"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	reminders   *prometheus.CounterVec
	dispatch    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	payments    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge_bot",
			Name:      "reminders_total",
			Help:      "Scheduled messages by kind and result.",
		}, []string{"kind", "result"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "challenge_bot",
			Name:      "reminder_dispatch_seconds",
			Help:      "Duration of one reminder dispatcher run.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge_bot",
			Name:      "funnel_transitions_total",
			Help:      "Applied funnel state changes.",
		}, []string{"event"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge_bot",
			Name:      "payments_total",
			Help:      "Payment intents and reconciliation outcomes.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.reminders, m.dispatch, m.transitions, m.payments)
	return m
}

func (m *Metrics) ReminderResult(kind models.ReminderKind, result string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) ObserveDispatch(kind models.ReminderKind, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) FunnelEvent(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) PaymentEvent(event string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(event).Inc()
}
