package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the donation service
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	CheckoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout sessions requested, by outcome",
		},
		[]string{"outcome"},
	)

	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_verifications_total",
			Help: "Donation verifications, by outcome",
		},
		[]string{"outcome"},
	)

	DonationsRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "donations_recorded_total",
			Help: "Total number of donations appended to the registry",
		},
	)

	DonatedMinorUnitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "donated_minor_units_total",
			Help: "Sum of recorded donation amounts in minor currency units",
		},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_snapshots_total",
			Help: "Registry snapshot uploads, by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all metrics on reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CheckoutSessionsTotal,
		VerificationsTotal,
		DonationsRecordedTotal,
		DonatedMinorUnitsTotal,
		GatewayRequestDuration,
		SnapshotsTotal,
	)
}
