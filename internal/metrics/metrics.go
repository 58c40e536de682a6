package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates prometheus.Counter
	TGOutgoingMsgs    *prometheus.CounterVec
	NowPayRequests    *prometheus.CounterVec
	NowPayLatency     *prometheus.HistogramVec
	IPNEvents         *prometheus.CounterVec
	LedgerOps         *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming Telegram updates.",
			}),
			TGOutgoingMsgs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_messages_total",
				Help:      "Total outgoing Telegram messages by outcome.",
			}, []string{"status"}),
			NowPayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nowpayments_requests_total",
				Help:      "Total NOWPayments API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			NowPayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "nowpayments_request_duration_seconds",
				Help:      "Latency distribution for NOWPayments API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			IPNEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipn_events_total",
				Help:      "Total IPN notifications by processing outcome.",
			}, []string{"outcome"}),
			LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total ledger operations by kind and outcome.",
			}, []string{"op", "outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingMsgs,
			metricsInstance.NowPayRequests,
			metricsInstance.NowPayLatency,
			metricsInstance.IPNEvents,
			metricsInstance.LedgerOps,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
