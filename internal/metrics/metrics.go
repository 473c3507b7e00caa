// Package metrics holds the Prometheus collectors for ledger and job activity.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocut_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocut_http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Ledger
	LedgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocut_ledger_entries_total",
			Help: "Ledger entries recorded, by kind",
		},
		[]string{"kind"},
	)
	LedgerCreditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocut_ledger_credits_total",
			Help: "Absolute credits moved, by kind",
		},
		[]string{"kind"},
	)
	InsufficientFundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocut_ledger_insufficient_funds_total",
			Help: "Debits rejected for insufficient funds",
		},
	)
	DuplicateRefundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocut_ledger_duplicate_refunds_total",
			Help: "Refunds skipped because one was already recorded",
		},
	)

	// Jobs
	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocut_job_transitions_total",
			Help: "Committed job transitions",
		},
		[]string{"from", "to"},
	)
	JobTransitionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocut_job_transitions_rejected_total",
			Help: "Rejected job transitions, by reason",
		},
		[]string{"reason"},
	)
	NotificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocut_notifications_failed_total",
			Help: "Status change notifications that could not be published",
		},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestLatency,
			LedgerEntriesTotal,
			LedgerCreditsTotal,
			InsufficientFundsTotal,
			DuplicateRefundsTotal,
			JobTransitionsTotal,
			JobTransitionsRejected,
			NotificationsFailed,
		)
	})
}
