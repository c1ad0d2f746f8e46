package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "rides_requested_total", Help: "Total ride requests created"})
	ClaimsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "ride_claims_total", Help: "Total successful ride claims"})
	ClaimsLostTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "ride_claims_lost_total", Help: "Claim attempts that lost the accept race"})
	DriversOnline       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hail", Name: "drivers_online", Help: "Drivers currently reporting online"})

	CandidateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "candidate_rejections_total", Help: "Driver records dropped during candidate filtering"},
		[]string{"reason"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
