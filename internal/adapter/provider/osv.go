package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const osvBaseURL = "https://osv-vulnerabilities.storage.googleapis.com"

// OSVProvider turns the advisories of one OSV ecosystem dump into feed items
// and CVE indicators.
type OSVProvider struct {
	client    *http.Client
	baseURL   string
	ecosystem string
	limit     int
}

func NewOSVProvider(client *http.Client, ecosystem string) *OSVProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OSVProvider{
		client:    client,
		baseURL:   osvBaseURL,
		ecosystem: ecosystem,
		limit:     50,
	}
}

func (p *OSVProvider) WithBaseURL(u string) *OSVProvider {
	p.baseURL = strings.TrimSuffix(u, "/")
	return p
}

func (p *OSVProvider) Name() string {
	return fmt.Sprintf("google-osv-%s", strings.ToLower(p.ecosystem))
}

type osvEntry struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary"`
	Details  string   `json:"details"`
	Aliases  []string `json:"aliases"`
	Affected []struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
		Versions []string `json:"versions"`
	} `json:"affected"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Modified  time.Time `json:"modified"`
	Published time.Time `json:"published"`
}

func (p *OSVProvider) Collect(ctx context.Context) (domain.Collection, error) {
	url := fmt.Sprintf("%s/%s/all.zip", p.baseURL, p.ecosystem)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to fetch osv dump: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Collection{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// The per-ecosystem dumps are a few MB.
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to read osv dump: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(bodyBytes), int64(len(bodyBytes)))
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to open osv zip: %w", err)
	}

	var entries []osvEntry
	for _, file := range zipReader.File {
		if !strings.HasSuffix(file.Name, ".json") {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			continue
		}
		var entry osvEntry
		if err := json.NewDecoder(rc).Decode(&entry); err == nil && entry.ID != "" {
			entries = append(entries, entry)
		}
		rc.Close()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Modified.After(entries[j].Modified) })
	if p.limit > 0 && len(entries) > p.limit {
		entries = entries[:p.limit]
	}

	var out domain.Collection
	for _, entry := range entries {
		feed := p.toFeed(entry)
		out.Feeds = append(out.Feeds, feed)

		for _, alias := range entry.Aliases {
			if !strings.HasPrefix(strings.ToUpper(alias), "CVE-") {
				continue
			}
			out.IOCs = append(out.IOCs, domain.IOC{
				Value:       domain.NormalizeIOCValue(alias, domain.CVE),
				Type:        domain.CVE,
				Source:      p.Name(),
				Confidence:  domain.ConfidenceHigh,
				FirstSeen:   feed.Timestamp,
				Tags:        feed.Tags,
				Description: entry.ID,
			})
		}
	}

	return out, nil
}

func (p *OSVProvider) toFeed(entry osvEntry) domain.ThreatFeed {
	var packages []string
	for _, affected := range entry.Affected {
		if affected.Package.Name != "" {
			packages = append(packages, affected.Package.Name)
		}
	}

	severity := inferSeverity(entry.Summary, entry.Details)
	tags := []string{"osv", strings.ToLower(p.ecosystem)}
	// MAL- advisories are published malicious packages, not bugs.
	if strings.HasPrefix(entry.ID, "MAL-") {
		severity = domain.SeverityCritical
		tags = append(tags, "supply-chain")
	}

	title := entry.ID
	if entry.Summary != "" {
		title = entry.ID + ": " + entry.Summary
	}
	summary := entry.Summary
	if len(packages) > 0 {
		summary = strings.TrimSpace(summary + " Affects " + strings.Join(packages, ", ") + ".")
	}

	ts := entry.Published
	if ts.IsZero() {
		ts = entry.Modified
	}

	feed := domain.ThreatFeed{
		Title:     title,
		Summary:   truncate(summary, 280),
		Source:    p.Name(),
		Severity:  severity,
		Tags:      tags,
		Timestamp: ts.UnixMilli(),
		URL:       "https://osv.dev/vulnerability/" + entry.ID,
		Content:   entry.Details,
	}
	feed.ID = domain.FeedID(feed)
	return feed
}
