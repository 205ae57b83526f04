package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reservation outcomes.
const (
	OutcomeReserved     = "reserved"
	OutcomeInsufficient = "insufficient"
	OutcomeConflict     = "conflict"
)

// OrderMetrics covers the stock ledger, state machine and webhook reconciler.
// A nil *OrderMetrics is a valid no-op.
type OrderMetrics struct {
	reservations *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
	notify       *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Stock reservation attempts by item kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		notify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_deliveries_total",
			Help:      "Side-effect sink deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(m.reservations, m.transitions, m.webhooks, m.notify)
	return m
}

func (m *OrderMetrics) ObserveReservation(kind, outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) ObserveTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *OrderMetrics) ObserveWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) ObserveNotify(sink string, err error) {
	if m == nil || m.notify == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.notify.WithLabelValues(normalizeLabel(sink), result).Inc()
}
