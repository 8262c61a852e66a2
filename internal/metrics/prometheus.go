package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus records into counters registered on a Registerer.
type Prometheus struct {
	checkouts     *prometheus.CounterVec
	ordersCreated prometheus.Counter
	payments      *prometheus.CounterVec
	clamped       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	compensations *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// NewPrometheus registers the order flow metrics on reg. A nil reg yields a
// recorder that drops everything.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		return &Prometheus{}
	}
	p := &Prometheus{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkouts by outcome.",
		}, []string{"outcome"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders written by checkout.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Checkout payments by resulting payment status.",
		}, []string{"status"}),
		clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_clamped_units_total",
			Help: "Units ordered beyond available stock.",
		}, []string{"category"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Applied order status transitions by target status.",
		}, []string{"status"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_compensations_total",
			Help: "Saga compensations by kind.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_events_total",
			Help: "Worker events by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(p.checkouts, p.ordersCreated, p.payments, p.clamped, p.transitions, p.compensations, p.events)
	return p
}

func (p *Prometheus) CheckoutCompleted(outcome string, orders int) {
	if p == nil || p.checkouts == nil {
		return
	}
	p.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
	if orders > 0 {
		p.ordersCreated.Add(float64(orders))
	}
}

func (p *Prometheus) PaymentOutcome(status string) {
	if p == nil || p.payments == nil {
		return
	}
	p.payments.WithLabelValues(normalizeLabel(status)).Inc()
}

func (p *Prometheus) StockClamped(category string, shortfall int) {
	if p == nil || p.clamped == nil || shortfall <= 0 {
		return
	}
	p.clamped.WithLabelValues(normalizeLabel(category)).Add(float64(shortfall))
}

func (p *Prometheus) StatusTransition(to string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (p *Prometheus) CompensationTriggered(kind string) {
	if p == nil || p.compensations == nil {
		return
	}
	p.compensations.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (p *Prometheus) EventProcessed(eventType, result string) {
	if p == nil || p.events == nil {
		return
	}
	p.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
