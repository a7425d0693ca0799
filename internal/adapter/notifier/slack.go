package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const DefaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      DefaultSlackAPIURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL points the notifier at a different chat.postMessage endpoint.
func (s *SlackNotifier) WithAPIURL(apiURL string) *SlackNotifier {
	s.apiURL = apiURL
	return s
}

var severityEmoji = map[domain.Severity]string{
	domain.SeverityCritical: "🔴",
	domain.SeverityHigh:     "🟠",
	domain.SeverityMedium:   "🟡",
	domain.SeverityLow:      "🟢",
}

// NotifyThreat sends a high priority feed item to Slack
func (s *SlackNotifier) NotifyThreat(ctx context.Context, feed domain.ThreatFeed) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildThreatBlocks(feed),
		Text:    fmt.Sprintf("⚠️ %s threat: %s", strings.ToUpper(string(feed.Severity)), feed.Title),
	}
	return s.sendMessage(ctx, payload)
}

// NotifyIOC sends alert for a new high-confidence IOC
func (s *SlackNotifier) NotifyIOC(ctx context.Context, ioc domain.IOC) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildIOCBlocks(ioc),
		Text:    fmt.Sprintf("🚨 High-confidence IOC detected: %s", ioc.Value),
	}
	return s.sendMessage(ctx, payload)
}

func (s *SlackNotifier) buildThreatBlocks(feed domain.ThreatFeed) []SlackBlock {
	emoji := severityEmoji[feed.Severity]
	if emoji == "" {
		emoji = "⚠️"
	}

	tags := "none"
	if len(feed.Tags) > 0 {
		tags = strings.Join(feed.Tags, ", ")
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("%s %s Severity Threat", emoji, strings.ToUpper(string(feed.Severity))),
			},
		},
		{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s*\n%s", feed.Title, feed.Summary),
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Source*\n%s", feed.Source)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Published*\n%s", feed.Time().UTC().Format(time.RFC3339))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Tags*\n%s", tags)},
			},
		},
	}

	if feed.URL != "" {
		blocks = append(blocks, SlackBlock{
			Type: "context",
			Elements: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("<%s|Open advisory>", feed.URL)},
			},
		})
	}

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("🔔 %s", s.mentionTeam)},
		})
	}

	return blocks
}

func (s *SlackNotifier) buildIOCBlocks(ioc domain.IOC) []SlackBlock {
	text := fmt.Sprintf("*Tags*: %s", strings.Join(ioc.Tags, ", "))
	if ioc.Description != "" {
		text += "\n" + ioc.Description
	}
	if s.mentionTeam != "" {
		text += fmt.Sprintf("\n\ncc: %s", s.mentionTeam)
	}

	return []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "🚨 High-Confidence IOC Detected",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Value*\n`%s`", ioc.Value)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Type*\n%s", ioc.Type)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence*\n%s", ioc.Confidence)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Source*\n%s", ioc.Source)},
			},
		},
		{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: text},
		},
	}
}

func (s *SlackNotifier) sendMessage(ctx context.Context, msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// Slack reports most failures as 200 with ok=false
	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && !ack.OK && ack.Error != "" {
		return fmt.Errorf("slack API error: %s", ack.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
