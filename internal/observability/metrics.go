package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_admissions_total",
			Help: "Admission attempts by outcome",
		},
		[]string{"outcome"},
	)

	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_order_transitions_total",
			Help: "Payment order transitions by target status",
		},
		[]string{"status"},
	)

	PaidUnseatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_paid_unseated_total",
			Help: "Orders paid without an available seat",
		},
	)

	ReapedOrdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_reaped_orders_total",
			Help: "Abandoned orders expired by the reaper",
		},
	)

	GatewayRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registrar_gateway_request_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registrar_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
