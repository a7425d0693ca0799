package domain

import (
	"sort"
	"time"
)

type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// SeverityDistribution groups feeds by severity, most critical first.
// Severities without feeds are omitted.
func SeverityDistribution(feeds []ThreatFeed) []SeverityCount {
	counts := make(map[Severity]int)
	for _, f := range feeds {
		counts[f.Severity]++
	}

	var out []SeverityCount
	for _, s := range Severities {
		if counts[s] > 0 {
			out = append(out, SeverityCount{Severity: s, Count: counts[s]})
		}
	}
	return out
}

// RecentThreatFeeds returns the n newest feeds.
func RecentThreatFeeds(feeds []ThreatFeed, n int) []ThreatFeed {
	sorted := make([]ThreatFeed, len(feeds))
	copy(sorted, feeds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// TopThreats ranks feeds by severity, then recency.
func TopThreats(feeds []ThreatFeed, limit int) []ThreatFeed {
	sorted := make([]ThreatFeed, len(feeds))
	copy(sorted, feeds)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Severity.Rank(), sorted[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return sorted[i].Timestamp > sorted[j].Timestamp
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

type TrendPoint struct {
	Date  string `json:"date"`
	Feeds int    `json:"feeds"`
	IOCs  int    `json:"iocs"`
	High  int    `json:"highPriority"`
}

// Trends buckets feeds and IOCs per UTC day for the last `days` days, oldest first.
func Trends(feeds []ThreatFeed, iocs []IOC, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		return []TrendPoint{}
	}

	today := now.UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	points := make([]TrendPoint, days)
	for i := range points {
		points[i].Date = start.AddDate(0, 0, i).Format("2006-01-02")
	}

	bucket := func(ms int64) int {
		t := time.UnixMilli(ms).UTC()
		if t.Before(start) || !t.Before(today.Add(24*time.Hour)) {
			return -1
		}
		return int(t.Sub(start) / (24 * time.Hour))
	}

	for _, f := range feeds {
		if i := bucket(f.Timestamp); i >= 0 {
			points[i].Feeds++
			if f.IsHighPriority() {
				points[i].High++
			}
		}
	}
	for _, ioc := range iocs {
		if i := bucket(ioc.FirstSeen); i >= 0 {
			points[i].IOCs++
		}
	}
	return points
}

type SourceActivity struct {
	Source          string   `json:"source"`
	Feeds           int      `json:"feeds"`
	IOCs            int      `json:"iocs"`
	HighestSeverity Severity `json:"highestSeverity,omitempty"`
}

// ThreatMap aggregates activity per source, sorted by source name.
func ThreatMap(feeds []ThreatFeed, iocs []IOC) []SourceActivity {
	bySource := make(map[string]*SourceActivity)
	get := func(source string) *SourceActivity {
		a, ok := bySource[source]
		if !ok {
			a = &SourceActivity{Source: source}
			bySource[source] = a
		}
		return a
	}

	for _, f := range feeds {
		a := get(f.Source)
		a.Feeds++
		if f.Severity.Rank() > a.HighestSeverity.Rank() {
			a.HighestSeverity = f.Severity
		}
	}
	for _, ioc := range iocs {
		get(ioc.Source).IOCs++
	}

	out := make([]SourceActivity, 0, len(bySource))
	for _, a := range bySource {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
