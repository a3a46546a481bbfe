package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		recurringAttemptsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by method and status (initiated/paid/failed/canceled).",
		},
		[]string{"method", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_cents_total",
			Help: "The total monetary value of successful payments in cents, labeled by currency.",
		},
		[]string{"currency"},
	)

	recurringAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurring_attempts_total",
			Help: "Recurring booking attempts by outcome (booked/failed).",
		},
		[]string{"outcome"},
	)
)

func IncPayment(method, status string) {
	paymentsTotal.WithLabelValues(norm(method), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amountCents int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amountCents))
}

func IncRecurringAttempt(outcome string) {
	recurringAttemptsTotal.WithLabelValues(norm(outcome)).Inc()
}
