// Package observability defines the Prometheus metrics for the autopilot
// engine. Counters are registered via promauto and served by the API's
// /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tick Metrics ───────────────────────────────────────────────────────────

// TicksTotal counts trigger invocations.
var TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "autopilot",
	Name:      "ticks_total",
	Help:      "Total autopilot trigger invocations.",
})

// DueQueueDepth tracks how many work items the last poll found due.
var DueQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autopress",
	Subsystem: "autopilot",
	Name:      "due_queue_depth",
	Help:      "Work items found due at the most recent poll.",
})

// JobsTotal counts orchestrator job attempts by outcome.
var JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "autopilot",
	Name:      "jobs_total",
	Help:      "Total work item execution attempts by outcome.",
}, []string{"outcome"})

// PostsTotal counts scheduled post attempts by outcome.
var PostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "posts",
	Name:      "published_total",
	Help:      "Total scheduled post publish attempts by outcome.",
}, []string{"outcome"})

// ─── Credit Metrics ─────────────────────────────────────────────────────────

// CreditsDeducted counts credits deducted across all accounts.
var CreditsDeducted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "credits",
	Name:      "deducted_total",
	Help:      "Total credits deducted across all accounts.",
})

// CreditsRefunded counts credits refunded after failed jobs.
var CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "credits",
	Name:      "refunded_total",
	Help:      "Total credits refunded after failed jobs.",
})

// InsufficientCredits counts deductions rejected for lack of balance.
var InsufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "autopress",
	Subsystem: "credits",
	Name:      "insufficient_total",
	Help:      "Total deduction attempts rejected with insufficient credits.",
})
