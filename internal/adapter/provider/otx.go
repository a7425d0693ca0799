package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const otxURL = "https://otx.alienvault.com/api/v1/pulses/subscribed?limit=10&modified_since=7d"

// OTX timestamps come without a zone, e.g. 2024-03-01T10:22:31.123000
var otxTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

type OTXProvider struct {
	client *http.Client
	apiKey string
	url    string
}

func NewOTXProvider(client *http.Client, apiKey string) *OTXProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OTXProvider{
		client: client,
		apiKey: apiKey,
		url:    otxURL,
	}
}

func (p *OTXProvider) WithURL(u string) *OTXProvider {
	p.url = u
	return p
}

func (p *OTXProvider) Name() string {
	return "alienvault-otx"
}

type otxResponse struct {
	Results []otxPulse `json:"results"`
	Next    string     `json:"next"`
}

type otxPulse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	AuthorName  string         `json:"author_name"`
	Created     string         `json:"created"`
	Modified    string         `json:"modified"`
	TLP         string         `json:"tlp"`
	References  []string       `json:"references"`
	Indicators  []otxIndicator `json:"indicators"`
	Tags        []string       `json:"tags"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"` // ex: IPv4, domain, FileHash-SHA256
	Created   string `json:"created"`
	Title     string `json:"title"`
}

func (p *OTXProvider) Collect(ctx context.Context) (domain.Collection, error) {
	if p.apiKey == "" {
		return domain.Collection{}, fmt.Errorf("OTX API Key is missing")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to fetch OTX pulses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Collection{}, fmt.Errorf("OTX API error: status %d", resp.StatusCode)
	}

	var data otxResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return domain.Collection{}, fmt.Errorf("failed to decode OTX json: %w", err)
	}

	var out domain.Collection
	for _, pulse := range data.Results {
		created := parseOTXTime(pulse.Created)
		if created.IsZero() {
			created = time.Now()
		}

		feed := domain.ThreatFeed{
			Title:     pulse.Name,
			Summary:   truncate(pulse.Description, 280),
			Source:    p.Name(),
			Severity:  inferSeverity(pulse.Name, pulse.Description, strings.Join(pulse.Tags, " ")),
			Tags:      pulse.Tags,
			Timestamp: created.UnixMilli(),
			Content:   pulse.Description,
		}
		if pulse.ID != "" {
			feed.URL = "https://otx.alienvault.com/pulse/" + pulse.ID
		}
		feed.ID = domain.FeedID(feed)
		out.Feeds = append(out.Feeds, feed)

		for _, ind := range pulse.Indicators {
			iocType := mapOTXType(ind.Type)
			if iocType == "" {
				continue
			}

			firstSeen := parseOTXTime(ind.Created)
			if firstSeen.IsZero() {
				firstSeen = created
			}

			out.IOCs = append(out.IOCs, domain.IOC{
				Value:       domain.NormalizeIOCValue(ind.Indicator, iocType),
				Type:        iocType,
				Source:      p.Name(),
				Confidence:  domain.ConfidenceForSeverity(feed.Severity),
				FirstSeen:   firstSeen.UnixMilli(),
				Tags:        pulse.Tags,
				Description: pulse.Name,
			})
		}
	}

	return out, nil
}

func parseOTXTime(raw string) time.Time {
	for _, layout := range otxTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func mapOTXType(otxType string) domain.IOCType {
	switch otxType {
	case "IPv4", "IPv6":
		return domain.IPAddress
	case "domain", "hostname":
		return domain.Domain
	case "URL", "url", "URI":
		return domain.URL
	case "FileHash-MD5", "FileHash-SHA1", "FileHash-SHA256":
		return domain.FileHash
	case "CVE":
		return domain.CVE
	case "email":
		return domain.Email
	default:
		return ""
	}
}
