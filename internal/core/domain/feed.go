package domain

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists the closed severity set from most to least critical.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for sorting; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ThreatFeed is a single item published by a threat feed source.
// Timestamp is epoch milliseconds.
type ThreatFeed struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Source    string   `json:"source"`
	Severity  Severity `json:"severity"`
	Tags      []string `json:"tags"`
	Timestamp int64    `json:"timestamp"`
	URL       string   `json:"url,omitempty"`
	Content   string   `json:"content"`
}

func (f ThreatFeed) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

// IsHighPriority reports whether the feed counts towards high priority threats.
func (f ThreatFeed) IsHighPriority() bool {
	return f.Severity == SeverityHigh || f.Severity == SeverityCritical
}

// Collection is what a single provider run yields.
type Collection struct {
	Feeds []ThreatFeed
	IOCs  []IOC
}

func (c Collection) Empty() bool {
	return len(c.Feeds) == 0 && len(c.IOCs) == 0
}
