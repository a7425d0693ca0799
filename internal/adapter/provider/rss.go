package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/mmcdole/gofeed"
)

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// RSSProvider collects advisories from an RSS or Atom feed. Each item becomes
// a ThreatFeed and the indicators mentioned in its text become IOCs.
type RSSProvider struct {
	client *http.Client
	name   string
	url    string
	parser *gofeed.Parser
}

func NewRSSProvider(client *http.Client, name, url string) *RSSProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &RSSProvider{
		client: client,
		name:   name,
		url:    url,
		parser: gofeed.NewParser(),
	}
}

func (p *RSSProvider) Name() string {
	return p.name
}

func (p *RSSProvider) Collect(ctx context.Context) (domain.Collection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "threatdeck/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to fetch %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Collection{}, fmt.Errorf("failed to fetch %s: %s", p.url, resp.Status)
	}

	parsed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to parse feed %s: %w", p.name, err)
	}

	var out domain.Collection
	for _, item := range parsed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}

		feed := p.toFeed(item)
		out.Feeds = append(out.Feeds, feed)
		out.IOCs = append(out.IOCs, domain.ExtractIndicators(feed)...)
	}

	return out, nil
}

func (p *RSSProvider) toFeed(item *gofeed.Item) domain.ThreatFeed {
	ts := time.Now()
	if item.PublishedParsed != nil {
		ts = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		ts = *item.UpdatedParsed
	}

	description := stripHTML(item.Description)
	content := stripHTML(item.Content)
	if content == "" {
		content = description
	}

	tags := make([]string, 0, len(item.Categories))
	for _, c := range item.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			tags = append(tags, c)
		}
	}

	feed := domain.ThreatFeed{
		Title:     strings.TrimSpace(item.Title),
		Summary:   truncate(description, 280),
		Source:    p.name,
		Severity:  inferSeverity(item.Title, description, strings.Join(tags, " ")),
		Tags:      tags,
		Timestamp: ts.UnixMilli(),
		URL:       item.Link,
		Content:   content,
	}
	feed.ID = domain.FeedID(feed)
	return feed
}

func stripHTML(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
