// Package metrics holds the Prometheus collectors of the pruning engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCallsPruned counts tool calls added to a prune set, by strategy.
	ToolCallsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_tool_calls_pruned_total",
			Help: "Tool calls marked as pruned",
		},
		[]string{"strategy"},
	)

	// TokensPruned counts estimated tokens removed from outbound requests.
	TokensPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prunepilot_tokens_pruned_total",
			Help: "Estimated tokens of tool output marked as pruned",
		},
	)

	// AnalysisRuns counts obsolescence analysis passes by outcome.
	AnalysisRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_analysis_runs_total",
			Help: "Obsolescence analysis passes",
		},
		[]string{"trigger", "outcome"},
	)

	// ModelSelections counts model selection results by source.
	ModelSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_model_selections_total",
			Help: "Analysis model selections grouped by cascade source",
		},
		[]string{"source"},
	)

	// HallucinatedIDs counts ids returned by the analysis model outside its candidate set.
	HallucinatedIDs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prunepilot_hallucinated_ids_total",
			Help: "Ids dropped from analysis responses because they were not candidates",
		},
	)

	// RequestsRewritten counts outbound requests by wire format and whether the body changed.
	RequestsRewritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_requests_intercepted_total",
			Help: "Outbound model requests seen by the interception layer",
		},
		[]string{"format", "changed"},
	)

	// OutputsReplaced counts tool outputs replaced by the placeholder.
	OutputsReplaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_outputs_replaced_total",
			Help: "Tool outputs replaced with the pruned placeholder",
		},
		[]string{"format"},
	)

	// PersistFailures counts snapshot writes that failed.
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prunepilot_persist_failures_total",
			Help: "Failed snapshot writes",
		},
	)

	// HTTPRequests counts proxy HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prunepilot_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks proxy HTTP request duration.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prunepilot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsPruned,
		TokensPruned,
		AnalysisRuns,
		ModelSelections,
		HallucinatedIDs,
		RequestsRewritten,
		OutputsReplaced,
		PersistFailures,
		HTTPRequests,
		HTTPDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
