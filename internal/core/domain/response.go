package domain

import "time"

// Ack is the envelope returned by command endpoints such as refresh.
type Ack struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewAck(success bool, message string, data any) Ack {
	return Ack{
		Success:   success,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Health is the /health payload.
type Health struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// SearchResult is the cross-entity search payload.
type SearchResult struct {
	Feeds []ThreatFeed `json:"feeds"`
	IOCs  []IOC        `json:"iocs"`
}

type SearchScope string

const (
	ScopeAll   SearchScope = "all"
	ScopeFeeds SearchScope = "feeds"
	ScopeIOCs  SearchScope = "iocs"
)

func (s SearchScope) Valid() bool {
	return s == ScopeAll || s == ScopeFeeds || s == ScopeIOCs
}
