package exporter

import (
	"fmt"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

const (
	FormatJSON = "json"
	FormatSTIX = "stix"
	FormatCEF  = "cef"
)

// Registry resolves an export format name to its exporter.
type Registry map[string]ports.Exporter

func NewRegistry() Registry {
	return Registry{
		FormatJSON: NewJSONExporter(),
		FormatSTIX: NewSTIXExporter(),
		FormatCEF:  NewCEFExporter(),
	}
}

// Get returns the exporter for format; an empty format means JSON.
func (r Registry) Get(format string) (ports.Exporter, error) {
	if format == "" {
		format = FormatJSON
	}
	e, ok := r[format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidFilter, format)
	}
	return e, nil
}

// Extension is the file extension used in download filenames.
func Extension(format string) string {
	switch format {
	case FormatSTIX:
		return "stix.json"
	case FormatCEF:
		return "cef"
	default:
		return "json"
	}
}

// iocScore maps the categorical confidence onto 0-100, nudged up by tag count.
func iocScore(ioc domain.IOC) int {
	score := 50
	switch ioc.Confidence {
	case domain.ConfidenceHigh:
		score = 85
	case domain.ConfidenceMedium:
		score = 70
	}

	// Increase confidence if multiple tags
	if len(ioc.Tags) > 3 {
		score += 5
	}

	return min(score, 100)
}
