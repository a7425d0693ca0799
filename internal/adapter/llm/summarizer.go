package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"go.uber.org/zap"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

type Config struct {
	Enabled bool
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
	Client  ResilientClientConfig
}

// LLMSummarizer asks an OpenAI-compatible chat completion endpoint for the
// dashboard's summary, trend and prediction paragraphs.
type LLMSummarizer struct {
	apiURL     string
	apiKey     string
	model      string
	client     *ResilientClient
	enabled    bool
	guardrails GuardrailConfig
	fallback   ports.Summarizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewLLMSummarizer builds a summarizer. fallback, if not nil, answers whenever
// the model is disabled, skipped or failing.
func NewLLMSummarizer(cfg Config, fallback ports.Summarizer, logger *zap.Logger) *LLMSummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	InitMetrics()

	return &LLMSummarizer{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     NewResilientClient(cfg.Timeout, cfg.Client, logger),
		enabled:    cfg.Enabled && cfg.APIKey != "",
		guardrails: DefaultGuardrailConfig(),
		fallback:   fallback,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *LLMSummarizer) IsEnabled() bool {
	return s.enabled
}

func (s *LLMSummarizer) Summarize(ctx context.Context, in ports.SummaryInput) ([]domain.AISummary, error) {
	timer := StartTimer()
	defer timer.ObserveDuration()

	if !s.enabled {
		return s.fallbackOr(ctx, in, fmt.Errorf("LLM summaries are not enabled"))
	}

	filtered, send := ApplyPreLLMGuardrails(in, s.logger)
	if !send {
		RecordSummaryRequest("skipped", "pre_filter")
		return s.fallbackOr(ctx, in, nil)
	}

	response, err := s.callLLM(ctx, s.buildPrompt(filtered))
	if err != nil {
		RecordSummaryRequest("error", "llm")
		s.logger.Error("❌ LLM call failed", zap.Error(err))
		return s.fallbackOr(ctx, in, fmt.Errorf("failed to call LLM: %w", err))
	}

	items, err := parseResponse(response)
	if err != nil {
		RecordSummaryRequest("error", "parse")
		RecordError("parse")
		return s.fallbackOr(ctx, in, fmt.Errorf("failed to parse LLM response: %w", err))
	}

	summaries := ApplyPostLLMGuardrails(items, filtered, s.guardrails, s.now(), s.logger)
	if len(summaries) == 0 {
		RecordSummaryRequest("error", "empty")
		return s.fallbackOr(ctx, in, fmt.Errorf("LLM returned no usable summaries"))
	}

	RecordSummaryRequest("success", "llm")
	RecordSummaries(summaries)
	return summaries, nil
}

func (s *LLMSummarizer) fallbackOr(ctx context.Context, in ports.SummaryInput, cause error) ([]domain.AISummary, error) {
	if s.fallback == nil {
		if cause == nil {
			return []domain.AISummary{}, nil
		}
		return nil, cause
	}
	if cause != nil {
		s.logger.Warn("⚠️  Using heuristic summaries", zap.Error(cause))
	}
	RecordSummaryRequest("success", "heuristic")
	return s.fallback.Summarize(ctx, in)
}

func (s *LLMSummarizer) buildPrompt(in ports.SummaryInput) string {
	var sb strings.Builder

	sb.WriteString("You are a threat intelligence analyst writing the briefing for a security dashboard.\n\n")

	sb.WriteString("**Current posture:**\n")
	sb.WriteString(fmt.Sprintf("- Threat level: %s\n", in.Stats.ThreatLevel))
	sb.WriteString(fmt.Sprintf("- Feeds: %d (high priority: %d, last 24h: %d)\n",
		in.Stats.TotalFeeds, in.Stats.HighPriorityThreats, in.Stats.RecentThreats))
	sb.WriteString(fmt.Sprintf("- Indicators: %d\n", in.Stats.TotalIOCs))
	if len(in.Stats.TopThreatTypes) > 0 {
		sb.WriteString(fmt.Sprintf("- Top threat types: %s\n", strings.Join(in.Stats.TopThreatTypes, ", ")))
	}

	sb.WriteString("\n**Recent threat feeds (most severe first):**\n")
	for i, f := range domain.TopThreats(in.Feeds, 15) {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s (source: %s", i+1, f.Severity, f.Title, f.Source))
		if len(f.Tags) > 0 {
			sb.WriteString(fmt.Sprintf(", tags: %s", strings.Join(f.Tags[:min(5, len(f.Tags))], ", ")))
		}
		sb.WriteString(")\n")
		if f.Summary != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", f.Summary))
		}
	}

	if len(in.IOCs) > 0 {
		sb.WriteString("\n**Sample indicators:**\n")
		for _, ioc := range in.IOCs[:min(20, len(in.IOCs))] {
			sb.WriteString(fmt.Sprintf("- %s %s (confidence: %s, source: %s)\n", ioc.Type, ioc.Value, ioc.Confidence, ioc.Source))
		}
	}

	sb.WriteString("\n**Task:**\n")
	sb.WriteString("Write exactly three items: an overall summary, the most notable trend, and a short-term prediction.\n")
	sb.WriteString("Answer with JSON only, in this format:\n")
	sb.WriteString("```json\n")
	sb.WriteString("[\n")
	sb.WriteString("  {\"type\": \"summary\", \"content\": \"...\", \"confidence\": 0-100},\n")
	sb.WriteString("  {\"type\": \"trend\", \"content\": \"...\", \"confidence\": 0-100},\n")
	sb.WriteString("  {\"type\": \"prediction\", \"content\": \"...\", \"confidence\": 0-100}\n")
	sb.WriteString("]\n")
	sb.WriteString("```\n\n")

	sb.WriteString("**Guidelines:**\n")
	sb.WriteString("1. Only reference activity present in the data above\n")
	sb.WriteString("2. Keep each item under three sentences\n")
	sb.WriteString("3. Lower confidence when the data is thin or contradictory\n")

	return sb.String()
}

func (s *LLMSummarizer) callLLM(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": "You are an expert cyber threat intelligence analyst. Respond with structured JSON only.",
			},
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"temperature": 0.3,
		"max_tokens":  800,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	return response.Choices[0].Message.Content, nil
}

// parseResponse accepts a bare JSON array, an object with an "items" array,
// or either of those inside a fenced code block.
func parseResponse(response string) ([]rawSummary, error) {
	jsonStr := response
	if idx := strings.Index(response, "```json"); idx != -1 {
		jsonStr = response[idx+7:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		jsonStr = response[idx+3:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	}
	jsonStr = strings.TrimSpace(jsonStr)

	var items []rawSummary
	if strings.HasPrefix(jsonStr, "{") {
		var wrapped struct {
			Items []rawSummary `json:"items"`
		}
		if err := json.Unmarshal([]byte(jsonStr), &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w (response: %s)", err, jsonStr)
		}
		items = wrapped.Items
	} else if err := json.Unmarshal([]byte(jsonStr), &items); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w (response: %s)", err, jsonStr)
	}

	return items, nil
}
