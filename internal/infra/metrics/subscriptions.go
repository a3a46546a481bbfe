package metrics

import (
	"subscription-payments/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsTotal,
		subscriptionsSuspendedTotal,
		subscriptionsTerminatedTotal,
	)
}

var (
	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by state.",
		},
		[]string{"state"}, // 'active', 'cancelled_but_active', 'suspended', 'terminated'
	)

	subscriptionsSuspendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_suspended_total",
			Help: "Total number of subscriptions suspended after repeated booking failures.",
		},
	)

	subscriptionsTerminatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_terminated_total",
			Help: "Total number of cancelled subscriptions terminated by the sweep.",
		},
	)
)

func SetSubscriptionsTotal(counts map[model.SubscriptionState]int) {
	states := []model.SubscriptionState{
		model.SubscriptionStateActive,
		model.SubscriptionStateCancelledButActive,
		model.SubscriptionStateSuspended,
		model.SubscriptionStateTerminated,
	}
	for _, state := range states {
		if count, ok := counts[state]; ok {
			subscriptionsTotal.WithLabelValues(state.String()).Set(float64(count))
		}
	}
}

func IncSubscriptionsSuspended() { subscriptionsSuspendedTotal.Inc() }

func AddSubscriptionsTerminated(count int) {
	subscriptionsTerminatedTotal.Add(float64(count))
}
