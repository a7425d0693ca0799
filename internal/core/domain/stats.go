package domain

import (
	"sort"
	"time"
)

type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "LOW"
	ThreatLevelMedium   ThreatLevel = "MEDIUM"
	ThreatLevelHigh     ThreatLevel = "HIGH"
	ThreatLevelCritical ThreatLevel = "CRITICAL"
)

const (
	// RecentWindow bounds what counts as a recent threat.
	RecentWindow = 24 * time.Hour
	// TopThreatTypesLimit caps ThreatStats.TopThreatTypes.
	TopThreatTypesLimit = 5
)

// ThreatStats is a read-only snapshot computed per request.
type ThreatStats struct {
	TotalFeeds          int         `json:"totalFeeds"`
	TotalIOCs           int         `json:"totalIOCs"`
	HighPriorityThreats int         `json:"highPriorityThreats"`
	LastUpdated         string      `json:"lastUpdated"`
	ThreatLevel         ThreatLevel `json:"threatLevel"`
	RecentThreats       int         `json:"recentThreats"`
	TopThreatTypes      []string    `json:"topThreatTypes"`
}

// ComputeStats derives the aggregate counters from the current collections.
func ComputeStats(feeds []ThreatFeed, iocs []IOC, now time.Time) ThreatStats {
	stats := ThreatStats{
		TotalFeeds:     len(feeds),
		TotalIOCs:      len(iocs),
		LastUpdated:    now.UTC().Format(time.RFC3339),
		ThreatLevel:    ThreatLevelLow,
		TopThreatTypes: TopThreatTypes(feeds, TopThreatTypesLimit),
	}

	cutoff := now.Add(-RecentWindow).UnixMilli()
	highest := 0
	for _, f := range feeds {
		if f.IsHighPriority() {
			stats.HighPriorityThreats++
		}
		if f.Timestamp >= cutoff {
			stats.RecentThreats++
		}
		if r := f.Severity.Rank(); r > highest {
			highest = r
		}
	}

	switch highest {
	case SeverityCritical.Rank():
		stats.ThreatLevel = ThreatLevelCritical
	case SeverityHigh.Rank():
		stats.ThreatLevel = ThreatLevelHigh
	case SeverityMedium.Rank():
		stats.ThreatLevel = ThreatLevelMedium
	}

	return stats
}

// TopThreatTypes ranks feed tags by frequency, ties broken alphabetically.
func TopThreatTypes(feeds []ThreatFeed, limit int) []string {
	counts := make(map[string]int)
	for _, f := range feeds {
		seen := make(map[string]bool, len(f.Tags))
		for _, tag := range f.Tags {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			counts[tag]++
		}
	}

	types := make([]string, 0, len(counts))
	for tag := range counts {
		types = append(types, tag)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	if limit > 0 && len(types) > limit {
		types = types[:limit]
	}
	return types
}
