package llm

import (
	"sync"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	// summaryRequestsTotal counts summarize calls by status and reason
	summaryRequestsTotal *prometheus.CounterVec

	summaryDuration prometheus.Histogram

	// summaryGuardrailsTotal counts guardrail activations by stage and action
	summaryGuardrailsTotal *prometheus.CounterVec

	// apiErrorsTotal counts LLM API errors by type
	apiErrorsTotal *prometheus.CounterVec

	// summaryConfidence tracks the confidence of published summaries
	summaryConfidence *prometheus.HistogramVec
)

// InitMetrics registers the summarizer metrics. Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		summaryRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_summary_requests_total",
				Help: "Total number of AI summary requests by status and reason",
			},
			[]string{"status", "reason"},
		)

		summaryDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threatdeck_summary_duration_seconds",
				Help:    "Duration of AI summary generation in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		)

		summaryGuardrailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_summary_guardrails_total",
				Help: "Total number of guardrail activations by stage and action",
			},
			[]string{"stage", "action"},
		)

		apiErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatdeck_llm_api_errors_total",
				Help: "Total number of LLM API errors by error type",
			},
			[]string{"error_type"},
		)

		summaryConfidence = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatdeck_summary_confidence",
				Help:    "Distribution of AI summary confidence scores (0-100)",
				Buckets: []float64{20, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"type"},
		)
	})
}

// RecordSummaryRequest records a summarize call.
// status: "success", "error", "skipped"; reason: "llm", "heuristic", "pre_filter", "parse"
func RecordSummaryRequest(status, reason string) {
	if summaryRequestsTotal != nil {
		summaryRequestsTotal.WithLabelValues(status, reason).Inc()
	}
}

func RecordSummaryDuration(duration time.Duration) {
	if summaryDuration != nil {
		summaryDuration.Observe(duration.Seconds())
	}
}

// RecordGuardrail records a guardrail activation
// stage: "pre", "post"; action: "skip", "drop", "clamp", "cap"
func RecordGuardrail(stage, action string) {
	if summaryGuardrailsTotal != nil {
		summaryGuardrailsTotal.WithLabelValues(stage, action).Inc()
	}
}

// RecordError records an LLM API error by type
// errorType: "timeout", "auth", "rate_limit", "server_error", "connection", "parse", "circuit_open"
func RecordError(errorType string) {
	if apiErrorsTotal != nil {
		apiErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// RecordSummaries observes the confidence of each published summary.
func RecordSummaries(items []domain.AISummary) {
	if summaryConfidence == nil {
		return
	}
	for _, s := range items {
		summaryConfidence.WithLabelValues(string(s.Type)).Observe(float64(s.Confidence))
	}
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration() {
	if t != nil {
		RecordSummaryDuration(time.Since(t.start))
	}
}
