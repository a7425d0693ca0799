package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

// HeuristicSummarizer writes the three dashboard paragraphs from the stats
// alone. Its output only depends on its input and the clock.
type HeuristicSummarizer struct {
	now func() time.Time
}

func NewHeuristicSummarizer() *HeuristicSummarizer {
	return &HeuristicSummarizer{now: time.Now}
}

func (h *HeuristicSummarizer) Summarize(_ context.Context, in ports.SummaryInput) ([]domain.AISummary, error) {
	now := h.now()
	stats := in.Stats
	ts := now.UnixMilli()

	if stats.TotalFeeds == 0 && len(in.Feeds) > 0 {
		stats = domain.ComputeStats(in.Feeds, in.IOCs, now)
	}

	if stats.TotalFeeds == 0 && stats.TotalIOCs == 0 {
		return []domain.AISummary{{
			ID:         domain.NewID(),
			Type:       domain.SummaryTypeSummary,
			Content:    "No threat activity has been collected yet.",
			Timestamp:  ts,
			Confidence: 100,
		}}, nil
	}

	summary := fmt.Sprintf("Overall threat level is %s: %d feed items and %d indicators are tracked, %d of them high priority.",
		stats.ThreatLevel, stats.TotalFeeds, stats.TotalIOCs, stats.HighPriorityThreats)

	trend := fmt.Sprintf("%d new threat reports arrived in the last 24 hours.", stats.RecentThreats)
	if len(stats.TopThreatTypes) > 0 {
		trend += fmt.Sprintf(" The most reported categories are %s.", strings.Join(stats.TopThreatTypes, ", "))
	}

	var prediction string
	switch stats.ThreatLevel {
	case domain.ThreatLevelCritical, domain.ThreatLevelHigh:
		prediction = "Elevated activity is likely to continue; prioritise patching and blocking of the listed indicators."
	case domain.ThreatLevelMedium:
		prediction = "Activity is moderate; expect variants of the current campaigns to resurface."
	default:
		prediction = "No significant escalation is expected in the short term."
	}
	if len(stats.TopThreatTypes) > 0 {
		prediction += fmt.Sprintf(" Watch for further %s activity.", stats.TopThreatTypes[0])
	}

	confidence := 40
	if stats.TotalFeeds >= 10 {
		confidence = 60
	}

	return []domain.AISummary{
		{ID: domain.NewID(), Type: domain.SummaryTypeSummary, Content: summary, Timestamp: ts, Confidence: 70},
		{ID: domain.NewID(), Type: domain.SummaryTypeTrend, Content: trend, Timestamp: ts, Confidence: confidence},
		{ID: domain.NewID(), Type: domain.SummaryTypePrediction, Content: prediction, Timestamp: ts, Confidence: confidence - 10},
	}, nil
}
