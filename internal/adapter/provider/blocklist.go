package provider

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// BlocklistProvider reads plain-text indicator lists: one IP, host, URL or
// hash per line, with '#' and '//' comments. URLs are expanded into their
// host components so that a search for the IP also finds the URL.
type BlocklistProvider struct {
	client       *http.Client
	url          string
	providerName string
	tags         []string
}

func NewBlocklistProvider(client *http.Client, providerName string, url string, tags ...string) *BlocklistProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if len(tags) == 0 {
		tags = []string{"blocklist"}
	}
	return &BlocklistProvider{
		client:       client,
		providerName: providerName,
		url:          url,
		tags:         tags,
	}
}

func (p *BlocklistProvider) Name() string {
	return p.providerName
}

func (p *BlocklistProvider) Collect(ctx context.Context) (domain.Collection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to fetch %s: %w", p.providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Collection{}, fmt.Errorf("failed to fetch IOCs from %s: %s", p.url, resp.Status)
	}

	now := time.Now().UnixMilli()
	seen := make(map[string]bool)
	var iocs []domain.IOC

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		// Remove inline comments
		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		// Some lists append a score or port after whitespace
		if fields := strings.Fields(line); len(fields) > 0 {
			line = fields[0]
		}
		if line == "" {
			continue
		}

		iocType := detectIOCType(line)
		if iocType == domain.IPAddress {
			if host, _, err := net.SplitHostPort(line); err == nil {
				line = host
			}
		}

		base := domain.IOC{
			Value:      domain.NormalizeIOCValue(line, iocType),
			Type:       iocType,
			Source:     p.providerName,
			Confidence: domain.ConfidenceMedium,
			FirstSeen:  now,
			Tags:       p.tags,
		}

		for _, c := range domain.ExtractIOCComponents(line, base) {
			if seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			iocs = append(iocs, c)
		}
	}

	if err := scanner.Err(); err != nil {
		return domain.Collection{}, fmt.Errorf("scanner error: %w", err)
	}

	return domain.Collection{IOCs: iocs}, nil
}

// detectIOCType attempts to determine IOC type from the value
func detectIOCType(value string) domain.IOCType {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return domain.URL
	}

	host := value
	if h, _, err := net.SplitHostPort(value); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return domain.IPAddress
	}
	if _, _, err := net.ParseCIDR(value); err == nil {
		return domain.IPAddress
	}

	// Check for hash (32, 40, or 64 chars hex)
	if len(value) == 32 || len(value) == 40 || len(value) == 64 {
		isHex := true
		for _, c := range value {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				isHex = false
				break
			}
		}
		if isHex {
			return domain.FileHash
		}
	}

	if strings.Contains(value, "@") {
		return domain.Email
	}

	return domain.Domain
}
