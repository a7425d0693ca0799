package llm

import (
	"testing"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

func TestInitMetrics(t *testing.T) {
	// Should be idempotent
	InitMetrics()
	InitMetrics()
	InitMetrics()
}

func TestRecordSummaryRequest(t *testing.T) {
	InitMetrics()

	tests := []struct {
		status string
		reason string
	}{
		{"success", "llm"},
		{"success", "heuristic"},
		{"skipped", "pre_filter"},
		{"error", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.status+"_"+tt.reason, func(t *testing.T) {
			RecordSummaryRequest(tt.status, tt.reason)
		})
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	InitMetrics()

	RecordSummaryDuration(250 * time.Millisecond)
	RecordGuardrail("post", "drop")
	RecordError("timeout")
	RecordSummaries([]domain.AISummary{
		{Type: domain.SummaryTypeTrend, Confidence: 75},
		{Type: domain.SummaryTypePrediction, Confidence: 40},
	})

	timer := StartTimer()
	timer.ObserveDuration()

	var nilTimer *Timer
	nilTimer.ObserveDuration()
}
