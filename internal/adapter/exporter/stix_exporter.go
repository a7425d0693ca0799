package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// STIXExporter exports IOCs in STIX 2.1 format for SIEM ingestion
type STIXExporter struct {
	now func() time.Time
}

func NewSTIXExporter() *STIXExporter {
	return &STIXExporter{now: time.Now}
}

func (e *STIXExporter) Format() string      { return FormatSTIX }
func (e *STIXExporter) ContentType() string { return "application/stix+json" }

// Export generates a STIX 2.1 bundle. Sightings of the same observable from
// several sources collapse into one indicator.
func (e *STIXExporter) Export(_ context.Context, bundle domain.ExportBundle) ([]byte, error) {
	out := STIXBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--%s", uuid.New().String()),
		Objects: []STIXObject{},
	}

	sources := make(map[string][]string)
	for _, ioc := range bundle.IOCs {
		key := observableKey(ioc)
		sources[key] = appendUnique(sources[key], ioc.Source)
	}

	now := e.now().UTC().Format(time.RFC3339)
	for _, ioc := range domain.MergeSightings(bundle.IOCs) {
		out.Objects = append(out.Objects, e.convertToSTIX(ioc, sources[observableKey(ioc)], now))
	}

	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}
	return jsonData, nil
}

func (e *STIXExporter) convertToSTIX(ioc domain.IOC, sources []string, now string) STIXObject {
	refs := make([]ExternalReference, 0, len(sources))
	for _, src := range sources {
		refs = append(refs, ExternalReference{SourceName: src})
	}

	obj := STIXObject{
		Type:               "indicator",
		SpecVersion:        "2.1",
		ID:                 "indicator--" + domain.StableID(string(ioc.Type), domain.NormalizeIOCValue(ioc.Value, ioc.Type)),
		Created:            now,
		Modified:           now,
		Name:               fmt.Sprintf("%s Indicator", strings.ToUpper(string(ioc.Type))),
		Description:        ioc.Description,
		Pattern:            buildPattern(ioc),
		PatternType:        "stix",
		ValidFrom:          ioc.FirstSeenTime().UTC().Format(time.RFC3339),
		IndicatorTypes:     indicatorTypes(ioc.Tags),
		Confidence:         iocScore(ioc),
		Labels:             ioc.Tags,
		ExternalReferences: refs,
	}
	if ioc.LastSeen > 0 {
		obj.ValidUntil = time.UnixMilli(ioc.LastSeen).UTC().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	}
	return obj
}

func buildPattern(ioc domain.IOC) string {
	value := strings.ReplaceAll(ioc.Value, "'", "\\'")
	switch ioc.Type {
	case domain.IPAddress:
		if strings.Contains(value, ":") {
			return fmt.Sprintf("[ipv6-addr:value = '%s']", value)
		}
		return fmt.Sprintf("[ipv4-addr:value = '%s']", value)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", value)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", value)
	case domain.FileHash:
		return fmt.Sprintf("[file:hashes.'%s' = '%s']", detectHashType(value), value)
	case domain.Email:
		return fmt.Sprintf("[email-addr:value = '%s']", value)
	case domain.CVE:
		return fmt.Sprintf("[vulnerability:name = '%s']", value)
	default:
		return fmt.Sprintf("[x-custom:value = '%s']", value)
	}
}

var tagIndicatorTypes = map[string]string{
	"c2":         "command-and-control",
	"botnet":     "botnet",
	"phishing":   "phishing",
	"malware":    "malware-download",
	"ransomware": "malware-download",
	"tor":        "anonymization",
}

func indicatorTypes(tags []string) []string {
	types := []string{"malicious-activity"}
	for _, tag := range tags {
		if t, ok := tagIndicatorTypes[strings.ToLower(tag)]; ok {
			types = appendUnique(types, t)
		}
	}
	return types
}

func detectHashType(hash string) string {
	switch len(hash) {
	case 32:
		return "MD5"
	case 40:
		return "SHA-1"
	default:
		return "SHA-256"
	}
}

func observableKey(ioc domain.IOC) string {
	return string(ioc.Type) + "|" + domain.NormalizeIOCValue(ioc.Value, ioc.Type)
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Pattern            string              `json:"pattern"`
	PatternType        string              `json:"pattern_type"`
	ValidFrom          string              `json:"valid_from"`
	ValidUntil         string              `json:"valid_until,omitempty"`
	IndicatorTypes     []string            `json:"indicator_types"`
	Confidence         int                 `json:"confidence"`
	Labels             []string            `json:"labels,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
}

type ExternalReference struct {
	SourceName string `json:"source_name"`
	URL        string `json:"url,omitempty"`
}
