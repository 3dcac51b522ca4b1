package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. Provider errors are
// normalized into this set so label values stay bounded.
const (
	ProviderErrorTimeout    = "timeout"
	ProviderErrorRateLimit  = "rate_limit"
	ProviderErrorAuth       = "authentication"
	ProviderErrorNetwork    = "network"
	ProviderErrorDecode     = "decode"
	ProviderErrorServerSide = "server_error"
	ProviderErrorOther      = "other"
)

// NormalizeProviderError maps arbitrary provider errors to a bounded set.
func NormalizeProviderError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ProviderErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ProviderErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ProviderErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused"):
		return ProviderErrorNetwork
	case strings.Contains(errStr, "decode") || strings.Contains(errStr, "unmarshal") || strings.Contains(errStr, "parse"):
		return ProviderErrorDecode
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ProviderErrorServerSide
	default:
		return ProviderErrorOther
	}
}

// Strategic cycle metrics
var (
	CyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcintel_cycles_completed_total",
		Help: "Total number of completed strategic cycles",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btcintel_cycle_duration_ms",
		Help:    "Strategic cycle duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 120000},
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcintel_phase_duration_ms",
		Help:    "Cycle phase duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"phase"})

	DecisionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_decisions_executed_total",
		Help: "Total decisions executed by type and outcome",
	}, []string{"decision_type", "status"})

	ConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcintel_conflicts_detected_total",
		Help: "Total goal conflicts detected across cycles",
	})

	EmergentBehaviors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_emergent_behaviors_total",
		Help: "Total emergent behaviors detected by classification",
	}, []string{"beneficial"})
)

// Agent metrics
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcintel_active_agents",
		Help: "Number of registered agents",
	})

	AgentAutonomy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btcintel_agent_autonomy",
		Help: "Agent autonomy level (0.30 to 0.99)",
	}, []string{"agent_id"})

	AgentReputation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btcintel_agent_reputation",
		Help: "Agent reputation (0.0 to 1.0)",
	}, []string{"agent_id"})

	AgentGoalProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btcintel_agent_goal_progress",
		Help: "Agent goal progress (0.0 to 1.0)",
	}, []string{"agent_id"})

	AgentHookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcintel_agent_hook_duration_ms",
		Help:    "Agent lifecycle hook duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 500, 1000, 2000},
	}, []string{"agent_id", "hook"})

	AgentAdaptations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_agent_adaptations_total",
		Help: "Total goal adaptations executed per agent",
	}, []string{"agent_id"})
)

// Market hunter metrics
var (
	HuntsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_hunts_completed_total",
		Help: "Total hunt iterations by outcome",
	}, []string{"status"})

	HuntsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcintel_hunts_skipped_total",
		Help: "Total hunt ticks skipped because a hunt was still running",
	})

	SourceScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btcintel_source_score",
		Help: "Most recent selection score per source",
	}, []string{"source"})

	SourceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_source_calls_total",
		Help: "Total source fetches by source and outcome",
	}, []string{"source", "status"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_signals_emitted_total",
		Help: "Total signals emitted by source and severity",
	}, []string{"source", "severity"})

	SignalsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_signals_discarded_total",
		Help: "Total signals discarded below the confidence floor",
	}, []string{"source"})
)

// Provider metrics
var (
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcintel_provider_latency_ms",
		Help:    "External provider latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"provider"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_provider_errors_total",
		Help: "Total provider errors by normalized category",
	}, []string{"provider", "error_type"})

	ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btcintel_provider_breaker_open",
		Help: "Provider circuit breaker state (1 = open, 0 = closed)",
	}, []string{"provider"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_cache_operations_total",
		Help: "Snapshot cache operations by result",
	}, []string{"result"})
)

// Bus and persistence metrics
var (
	BusMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcintel_bus_messages_published_total",
		Help: "Total messages published on the bus",
	})

	BusMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_bus_messages_dropped_total",
		Help: "Total messages dropped from full inboxes per recipient",
	}, []string{"recipient"})

	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcintel_store_query_duration_ms",
		Help:    "Store operation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"operation"})

	DecisionLogFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcintel_decisionlog_flushes_total",
		Help: "Decision log batch flushes by outcome",
	}, []string{"status"})

	DecisionLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcintel_decisionlog_dropped_total",
		Help: "Decision log entries dropped because the buffer was full",
	})
)

// RecordProviderCall records one provider call with its latency and,
// when it failed, a normalized error category.
func RecordProviderCall(provider string, durationMs float64, err error) {
	ProviderLatency.WithLabelValues(provider).Observe(durationMs)
	if err != nil {
		ProviderErrors.WithLabelValues(provider, NormalizeProviderError(err)).Inc()
	}
}

// RecordDecisionExecution records one executed decision.
func RecordDecisionExecution(decisionType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	DecisionsExecuted.WithLabelValues(decisionType, status).Inc()
}

// SetBreakerOpen sets the provider breaker gauge.
func SetBreakerOpen(provider string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	ProviderBreakerState.WithLabelValues(provider).Set(v)
}

// RecordAgentHook records one lifecycle hook invocation.
func RecordAgentHook(agentID, hook string, durationMs float64) {
	AgentHookDuration.WithLabelValues(agentID, hook).Observe(durationMs)
}
