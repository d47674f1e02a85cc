package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "flagd_decision_duration_sec",
	Help: "Duration of successful moderation decisions",
}, []string{"action"})

var decisionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flagd_decision_errors",
	Help: "Number of moderation requests which failed, by operation and error kind",
}, []string{"op", "kind"})

var flagsRecordedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flagd_flags_recorded",
	Help: "Number of new flag records committed",
}, []string{"type", "action", "reason"})

var classifiedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flagd_rule_matches",
	Help: "Number of times content classification matched a rule",
}, []string{"type", "reason"})

var sideEffectCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flagd_side_effects",
	Help: "Post-commit side effects (events, notifications) by outcome",
}, []string{"kind", "status"})

var cacheLookupCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flagd_cache_lookups",
	Help: "Entity cache lookups, by namespace and hit or miss",
}, []string{"name", "result"})

var reconcileMissingCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flagd_reconcile_missing_records",
	Help: "Flag records found in the store but missing from stats during reconcile",
})
