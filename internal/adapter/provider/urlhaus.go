package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const urlHausCSV = "https://urlhaus.abuse.ch/downloads/csv_recent/"

type URLHausProvider struct {
	client *http.Client
	url    string
}

func NewURLHausProvider(client *http.Client) *URLHausProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLHausProvider{
		client: client,
		url:    urlHausCSV,
	}
}

// WithURL points the provider at a mirror of the CSV export.
func (p *URLHausProvider) WithURL(u string) *URLHausProvider {
	p.url = u
	return p
}

func (p *URLHausProvider) Name() string {
	return "abusech-urlhaus"
}

func (p *URLHausProvider) Collect(ctx context.Context) (domain.Collection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to fetch urlhaus: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Collection{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	var iocs []domain.IOC

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Collection{}, fmt.Errorf("error reading csv line: %w", err)
		}
		// 0: id, 1: dateadded, 2: url, 3: url_status, 4: last_online,
		// 5: threat, 6: tags, 7: urlhaus_link, 8: reporter
		if len(record) < 7 || record[2] == "" {
			continue
		}

		firstSeen, err := time.Parse("2006-01-02 15:04:05", record[1])
		if err != nil {
			firstSeen = time.Now()
		}

		var lastSeen int64
		if online, err := time.Parse("2006-01-02 15:04:05", record[4]); err == nil {
			lastSeen = online.UnixMilli()
		}

		tags := splitTags(record[6])
		if record[5] != "" {
			tags = append([]string{record[5]}, tags...)
		}

		confidence := domain.ConfidenceMedium
		if record[3] == "online" {
			confidence = domain.ConfidenceHigh
		}

		baseIOC := domain.IOC{
			Value:       record[2],
			Type:        domain.URL,
			Source:      p.Name(),
			Confidence:  confidence,
			FirstSeen:   firstSeen.UnixMilli(),
			LastSeen:    lastSeen,
			Tags:        tags,
			Description: record[5],
		}

		// Extract components (URL + IP/domain) for better matching
		iocs = append(iocs, domain.ExtractIOCComponents(record[2], baseIOC)...)
	}

	return domain.Collection{IOCs: iocs}, nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
