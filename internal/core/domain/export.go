package domain

import "time"

// ExportBundle is the full dashboard export.
type ExportBundle struct {
	Feeds       []ThreatFeed `json:"feeds"`
	IOCs        []IOC        `json:"iocs"`
	AISummaries []AISummary  `json:"aiSummaries"`
	Stats       ThreatStats  `json:"stats"`
	ExportDate  string       `json:"exportDate"`
}

// ExportFilename is threat-intelligence-export-<YYYY-MM-DD>.<ext>.
func ExportFilename(t time.Time, ext string) string {
	if ext == "" {
		ext = "json"
	}
	return "threat-intelligence-export-" + t.UTC().Format("2006-01-02") + "." + ext
}
