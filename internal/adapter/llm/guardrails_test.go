package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"go.uber.org/zap"
)

func TestIsKnownGoodIndicator(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected bool
	}{
		{"Microsoft domain", "update.microsoft.com", true},
		{"Microsoft subdomain", "windowsupdate.com", true},
		{"AWS domain", "s3.amazonaws.com", true},
		{"Google URL", "https://fonts.googleapis.com/css", true},
		{"CloudFlare CDN", "cdnjs.cloudflare.com", true},
		{"Lookalike", "microsoft.com.evil.xyz", false},
		{"Unknown domain", "malicious-site.xyz", false},
		{"IP address", "192.0.2.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isKnownGoodIndicator(tt.value)
			if result != tt.expected {
				t.Errorf("isKnownGoodIndicator(%q) = %v, want %v", tt.value, result, tt.expected)
			}
		})
	}
}

func TestApplyPreLLMGuardrails(t *testing.T) {
	logger := zap.NewNop()

	if _, ok := ApplyPreLLMGuardrails(ports.SummaryInput{}, logger); ok {
		t.Error("expected empty input to skip the model")
	}

	in := ports.SummaryInput{
		Feeds: []domain.ThreatFeed{{Title: "x"}},
		IOCs: []domain.IOC{
			{Value: "update.microsoft.com"},
			{Value: "evil.example.xyz"},
		},
	}
	got, ok := ApplyPreLLMGuardrails(in, logger)
	if !ok {
		t.Fatal("expected input to be sent")
	}
	if len(got.IOCs) != 1 || got.IOCs[0].Value != "evil.example.xyz" {
		t.Errorf("known-good indicator not removed: %+v", got.IOCs)
	}
}

func TestApplyPostLLMGuardrails(t *testing.T) {
	feeds := make([]domain.ThreatFeed, 5)
	in := ports.SummaryInput{Feeds: feeds}
	now := time.UnixMilli(1000)

	items := []rawSummary{
		{Type: " Summary ", Content: "Phishing is up.", Confidence: 150},
		{Type: "summary", Content: "duplicate", Confidence: 50},
		{Type: "forecast", Content: "unknown type", Confidence: 50},
		{Type: "trend", Content: "   ", Confidence: 50},
		{Type: "prediction", Content: "More ransomware.", Confidence: 95},
		{Type: "trend", Content: strings.Repeat("a", 20), Confidence: -3},
	}

	config := DefaultGuardrailConfig()
	config.MaxContentLength = 10
	got := ApplyPostLLMGuardrails(items, in, config, now, zap.NewNop())

	if len(got) != 3 {
		t.Fatalf("got %d summaries, want 3: %+v", len(got), got)
	}
	if got[0].Type != domain.SummaryTypeSummary || got[0].Confidence != 100 {
		t.Errorf("summary = %+v", got[0])
	}
	if got[1].Type != domain.SummaryTypePrediction || got[1].Confidence != 85 {
		t.Errorf("prediction = %+v", got[1])
	}
	if got[2].Confidence != 0 || got[2].Content != "aaaaaaaaaa..." {
		t.Errorf("trend = %+v", got[2])
	}
	for _, s := range got {
		if s.ID == "" || s.Timestamp != 1000 {
			t.Errorf("summary not stamped: %+v", s)
		}
	}
}

func TestApplyPostLLMGuardrails_LowEvidence(t *testing.T) {
	in := ports.SummaryInput{Feeds: make([]domain.ThreatFeed, 1)}
	items := []rawSummary{{Type: "summary", Content: "ok", Confidence: 90}}

	got := ApplyPostLLMGuardrails(items, in, DefaultGuardrailConfig(), time.Now(), zap.NewNop())
	if len(got) != 1 || got[0].Confidence != 60 {
		t.Errorf("expected confidence capped at 60, got %+v", got)
	}
}
