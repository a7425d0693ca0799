package llm

import (
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"go.uber.org/zap"
)

// Guardrails are the rule-based checks around the model: what it gets to see
// and which of its answers get published.

// KnownGoodIndicators are never presented to the model as malicious
var KnownGoodIndicators = []string{
	// Microsoft domains
	"microsoft.com",
	"windowsupdate.com",
	"msftconnecttest.com",
	"office.com",
	"live.com",

	// Cloud providers
	"amazonaws.com",
	"cloudfront.net",
	"googleapis.com",
	"gstatic.com",
	"azure.com",

	// CDNs
	"cloudflare.com",
	"akamai.net",
	"fastly.net",

	// Common services
	"apple.com",
	"google.com",
	"mozilla.org",
	"ubuntu.com",
	"debian.org",
}

type GuardrailConfig struct {
	MaxContentLength          int // characters kept per summary (default: 1200)
	MinFeedsForHighConfidence int // below this, confidence is capped (default: 3)
	LowEvidenceConfidenceCap  int // cap applied with too little evidence (default: 60)
	MaxPredictionConfidence   int // predictions never claim more than this (default: 85)
}

func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxContentLength:          1200,
		MinFeedsForHighConfidence: 3,
		LowEvidenceConfidenceCap:  60,
		MaxPredictionConfidence:   85,
	}
}

// rawSummary is one item as the model returned it.
type rawSummary struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Confidence int    `json:"confidence"`
}

// ApplyPreLLMGuardrails removes known-good infrastructure from the input.
// It reports false when there is nothing left worth sending to the model.
func ApplyPreLLMGuardrails(in ports.SummaryInput, logger *zap.Logger) (ports.SummaryInput, bool) {
	if len(in.Feeds) == 0 && len(in.IOCs) == 0 {
		logger.Info("⚡ Pre-filter: no feeds or IOCs, skipping LLM")
		RecordGuardrail("pre", "skip")
		return in, false
	}

	kept := make([]domain.IOC, 0, len(in.IOCs))
	dropped := 0
	for _, ioc := range in.IOCs {
		if isKnownGoodIndicator(ioc.Value) {
			dropped++
			continue
		}
		kept = append(kept, ioc)
	}
	if dropped > 0 {
		logger.Info("⚡ Pre-filter: dropped known-good indicators", zap.Int("count", dropped))
		RecordGuardrail("pre", "drop")
	}

	in.IOCs = kept
	return in, true
}

// ApplyPostLLMGuardrails validates model output and turns it into publishable summaries.
func ApplyPostLLMGuardrails(items []rawSummary, in ports.SummaryInput, config GuardrailConfig, now time.Time, logger *zap.Logger) []domain.AISummary {
	seen := make(map[domain.SummaryType]bool)
	out := make([]domain.AISummary, 0, len(items))

	for _, item := range items {
		t := domain.SummaryType(strings.ToLower(strings.TrimSpace(item.Type)))
		if !t.Valid() {
			logger.Warn("⚠️  Guardrail: dropping summary with unknown type", zap.String("type", item.Type))
			RecordGuardrail("post", "drop")
			continue
		}
		if seen[t] {
			RecordGuardrail("post", "drop")
			continue
		}

		content := strings.TrimSpace(item.Content)
		if content == "" {
			logger.Warn("⚠️  Guardrail: dropping empty summary", zap.String("type", string(t)))
			RecordGuardrail("post", "drop")
			continue
		}
		if config.MaxContentLength > 0 && len(content) > config.MaxContentLength {
			content = strings.TrimSpace(content[:config.MaxContentLength]) + "..."
		}

		confidence := domain.ClampConfidence(item.Confidence)
		if confidence != item.Confidence {
			RecordGuardrail("post", "clamp")
		}
		if t == domain.SummaryTypePrediction && confidence > config.MaxPredictionConfidence {
			confidence = config.MaxPredictionConfidence
			RecordGuardrail("post", "cap")
		}
		if len(in.Feeds) < config.MinFeedsForHighConfidence && confidence > config.LowEvidenceConfidenceCap {
			logger.Info("⚠️  Guardrail: too few feeds for high confidence",
				zap.Int("feeds", len(in.Feeds)),
				zap.Int("confidence", confidence))
			confidence = config.LowEvidenceConfidenceCap
			RecordGuardrail("post", "cap")
		}

		seen[t] = true
		out = append(out, domain.AISummary{
			ID:         domain.NewID(),
			Type:       t,
			Content:    content,
			Timestamp:  now.UnixMilli(),
			Confidence: confidence,
		})
	}

	return out
}

func isKnownGoodIndicator(value string) bool {
	valueLower := strings.ToLower(value)
	for _, good := range KnownGoodIndicators {
		if valueLower == good || strings.HasSuffix(valueLower, "."+good) || strings.Contains(valueLower, "://"+good) || strings.Contains(valueLower, "."+good+"/") {
			return true
		}
	}
	return false
}
