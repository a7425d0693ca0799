package exporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// CEFExporter exports IOCs in Common Event Format for SIEM ingestion
type CEFExporter struct {
	vendor  string
	product string
	version string
}

func NewCEFExporter() *CEFExporter {
	return &CEFExporter{vendor: "ThreatDeck", product: "ThreatIntel", version: "1.0"}
}

func (e *CEFExporter) Format() string      { return FormatCEF }
func (e *CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

// Export generates one CEF line per IOC
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(_ context.Context, bundle domain.ExportBundle) ([]byte, error) {
	var output strings.Builder
	for _, ioc := range bundle.IOCs {
		output.WriteString(e.formatCEF(ioc))
		output.WriteString("\n")
	}
	return []byte(output.String()), nil
}

func (e *CEFExporter) formatCEF(ioc domain.IOC) string {
	score := iocScore(ioc)
	name := fmt.Sprintf("%s IOC Detected", strings.ToUpper(string(ioc.Type)))

	// CEF Extensions (key=value pairs)
	extensions := []string{
		fmt.Sprintf("src=%s", escapeExtension(ioc.Value)),
		"cn1Label=ConfidenceScore",
		fmt.Sprintf("cn1=%d", score),
		"cs1Label=Source",
		fmt.Sprintf("cs1=%s", escapeExtension(ioc.Source)),
		"cs2Label=Tags",
		fmt.Sprintf("cs2=%s", escapeExtension(strings.Join(ioc.Tags, ","))),
		fmt.Sprintf("rt=%d", ioc.FirstSeen), // milliseconds
	}
	if ioc.Description != "" {
		extensions = append(extensions, fmt.Sprintf("msg=%s", escapeExtension(ioc.Description)))
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		escapeHeader(e.vendor), escapeHeader(e.product), escapeHeader(e.version),
		escapeHeader(string(ioc.Type)), escapeHeader(name), cefSeverity(score), strings.Join(extensions, " "))
}

// cefSeverity maps confidence (0-100) to CEF severity (0-10)
func cefSeverity(confidence int) int {
	switch {
	case confidence >= 90:
		return 10
	case confidence >= 80:
		return 8
	case confidence >= 70:
		return 6
	case confidence >= 60:
		return 4
	}
	return 2
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "|", "\\|")
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
