package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

func testInput() ports.SummaryInput {
	feeds := []domain.ThreatFeed{
		{Title: "Phishing Campaign Detected", Source: "ThreatFeed1", Severity: domain.SeverityHigh, Tags: []string{"phishing", "banking"}},
		{Title: "Ransomware Variant Analysis", Source: "ThreatFeed2", Severity: domain.SeverityMedium, Tags: []string{"ransomware"}},
		{Title: "Botnet Takedown", Source: "ThreatFeed1", Severity: domain.SeverityCritical},
	}
	iocs := []domain.IOC{
		{Type: domain.IPAddress, Value: "192.168.1.50", Source: "ThreatFeed1", Confidence: domain.ConfidenceHigh},
	}
	return ports.SummaryInput{Feeds: feeds, IOCs: iocs, Stats: domain.ComputeStats(feeds, iocs, time.Now())}
}

func noRetry() ResilientClientConfig {
	return ResilientClientConfig{
		EnableCircuitBreaker: false,
		MaxRetries:           0,
		InitialInterval:      100 * time.Millisecond,
		MaxInterval:          1 * time.Second,
	}
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBuildPrompt(t *testing.T) {
	s := NewLLMSummarizer(Config{Enabled: true, APIKey: "k"}, nil, nil)
	prompt := s.buildPrompt(testInput())

	for _, want := range []string{
		"Threat level: CRITICAL",
		"1. [critical] Botnet Takedown",
		"[high] Phishing Campaign Detected (source: ThreatFeed1, tags: phishing, banking)",
		"ip 192.168.1.50",
		`"type": "prediction"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
		wantErr  bool
	}{
		{"bare array", `[{"type":"summary","content":"a","confidence":80}]`, 1, false},
		{"fenced json", "Here you go:\n```json\n[{\"type\":\"trend\",\"content\":\"b\",\"confidence\":70}]\n```", 1, false},
		{"plain fence", "```\n{\"items\":[{\"type\":\"summary\",\"content\":\"a\"},{\"type\":\"trend\",\"content\":\"b\"}]}\n```", 2, false},
		{"garbage", "I cannot help with that", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseResponse(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestSummarizeWithMockLLM(t *testing.T) {
	server := chatServer(t, "```json\n"+`[
		{"type": "summary", "content": "Phishing against banks dominates.", "confidence": 82},
		{"type": "trend", "content": "Ransomware is steady.", "confidence": 70},
		{"type": "prediction", "content": "Expect more botnet rebuilds.", "confidence": 99}
	]`+"\n```")

	s := NewLLMSummarizer(Config{Enabled: true, APIKey: "test-key", APIURL: server.URL, Client: noRetry()}, nil, nil)
	got, err := s.Summarize(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d summaries, want 3", len(got))
	}
	if got[0].Type != domain.SummaryTypeSummary || got[0].Confidence != 82 {
		t.Errorf("summary = %+v", got[0])
	}
	if got[2].Confidence != 85 {
		t.Errorf("prediction confidence = %d, want capped 85", got[2].Confidence)
	}
}

func TestSummarizeDisabledUsesFallback(t *testing.T) {
	s := NewLLMSummarizer(Config{Enabled: true}, NewHeuristicSummarizer(), nil)
	if s.IsEnabled() {
		t.Fatal("summarizer without API key must be disabled")
	}

	got, err := s.Summarize(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected heuristic summaries, got %+v", got)
	}
}

func TestSummarizeDisabledWithoutFallback(t *testing.T) {
	s := NewLLMSummarizer(Config{}, nil, nil)
	got, err := s.Summarize(context.Background(), testInput())
	if err == nil {
		t.Error("Expected error when summaries are disabled")
	}
	if got != nil {
		t.Error("Expected nil result when summaries are disabled")
	}
}

func TestSummarizeLLMErrorFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
	}))
	defer server.Close()

	cfg := Config{Enabled: true, APIKey: "test-key", APIURL: server.URL, Client: noRetry()}

	withFallback := NewLLMSummarizer(cfg, NewHeuristicSummarizer(), nil)
	got, err := withFallback.Summarize(context.Background(), testInput())
	if err != nil || len(got) == 0 {
		t.Fatalf("expected fallback summaries, got %v, %v", got, err)
	}

	bare := NewLLMSummarizer(cfg, nil, nil)
	_, err = bare.Summarize(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected error mentioning status 500, got: %v", err)
	}
}

func TestCallLLMTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewLLMSummarizer(Config{Enabled: true, APIKey: "test-key", APIURL: server.URL, Timeout: 100 * time.Millisecond, Client: noRetry()}, nil, nil)
	if _, err := s.callLLM(context.Background(), "test prompt"); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestHeuristicSummarizer(t *testing.T) {
	h := NewHeuristicSummarizer()
	h.now = func() time.Time { return time.UnixMilli(5000) }

	got, err := h.Summarize(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if !strings.Contains(got[0].Content, "CRITICAL") {
		t.Errorf("summary does not mention the threat level: %q", got[0].Content)
	}
	if !strings.Contains(got[2].Content, "Watch for further") {
		t.Errorf("prediction = %q", got[2].Content)
	}
	for _, s := range got {
		if s.Timestamp != 5000 || s.Confidence < 0 || s.Confidence > 100 {
			t.Errorf("bad summary %+v", s)
		}
	}

	empty, _ := h.Summarize(context.Background(), ports.SummaryInput{})
	if len(empty) != 1 || empty[0].Type != domain.SummaryTypeSummary {
		t.Errorf("empty input = %+v", empty)
	}
}
