package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token lifecycle metrics
var (
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
		[]string{"purpose"},
	)

	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_token_validations_total",
			Help: "Total number of token validations by outcome",
		},
		[]string{"purpose", "result"}, // result: ok/not_found/expired
	)

	TokensPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_tokens_purged_total",
			Help: "Total number of expired tokens removed by cleanup",
		},
		[]string{"purpose"},
	)
)

// Account lifecycle metrics
var (
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_operations_total",
			Help: "Total number of account lifecycle operations by outcome",
		},
		[]string{"operation", "result"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_notification_failures_total",
			Help: "Total number of failed notification dispatches",
		},
		[]string{"kind"},
	)
)

// HTTP metrics
var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accounts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Validation results
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultExpired  = "expired"
	ResultError    = "error"
)
