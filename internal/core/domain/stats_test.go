package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hour := time.Hour.Milliseconds()
	feeds := []ThreatFeed{
		{Severity: SeverityHigh, Tags: []string{"phishing", "banking"}, Timestamp: now.UnixMilli() - hour},
		{Severity: SeverityMedium, Tags: []string{"ransomware", "phishing"}, Timestamp: now.UnixMilli() - 2*hour},
		{Severity: SeverityLow, Tags: []string{"scanner"}, Timestamp: now.UnixMilli() - 48*hour},
	}

	stats := ComputeStats(feeds, sampleIOCs(), now)

	assert.Equal(t, 3, stats.TotalFeeds)
	assert.Equal(t, 2, stats.TotalIOCs)
	assert.Equal(t, 1, stats.HighPriorityThreats)
	assert.Equal(t, 2, stats.RecentThreats)
	assert.Equal(t, ThreatLevelHigh, stats.ThreatLevel)
	assert.Equal(t, "2024-05-01T12:00:00Z", stats.LastUpdated)
	assert.Equal(t, []string{"phishing", "banking", "ransomware", "scanner"}, stats.TopThreatTypes)
}

func TestComputeStats_ThreatLevel(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		severities []Severity
		want       ThreatLevel
	}{
		{"empty", nil, ThreatLevelLow},
		{"only low", []Severity{SeverityLow}, ThreatLevelLow},
		{"medium", []Severity{SeverityLow, SeverityMedium}, ThreatLevelMedium},
		{"critical wins", []Severity{SeverityHigh, SeverityCritical, SeverityLow}, ThreatLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var feeds []ThreatFeed
			for _, s := range tt.severities {
				feeds = append(feeds, ThreatFeed{Severity: s})
			}
			assert.Equal(t, tt.want, ComputeStats(feeds, nil, now).ThreatLevel)
		})
	}
}

func TestTopThreatTypes_Limit(t *testing.T) {
	feeds := []ThreatFeed{{Tags: []string{"f", "e", "d", "c", "b", "a", "a"}}}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, TopThreatTypes(feeds, 5))
}

func TestSeverityDistribution(t *testing.T) {
	got := SeverityDistribution(sampleFeeds())
	assert.Equal(t, []SeverityCount{
		{Severity: SeverityCritical, Count: 1},
		{Severity: SeverityHigh, Count: 1},
		{Severity: SeverityMedium, Count: 1},
	}, got)
}

func TestRecentAndTopThreats(t *testing.T) {
	feeds := sampleFeeds()

	assert.Equal(t, []string{"3", "2"}, ids(RecentThreatFeeds(feeds, 2)))
	assert.Equal(t, []string{"3", "1", "2"}, ids(TopThreats(feeds, 10)))
	assert.Equal(t, []string{"1", "2", "3"}, ids(feeds))
}

func TestTrends(t *testing.T) {
	now := time.Date(2024, 5, 3, 15, 0, 0, 0, time.UTC)
	day := func(d int) int64 { return time.Date(2024, 5, d, 10, 0, 0, 0, time.UTC).UnixMilli() }
	feeds := []ThreatFeed{
		{Severity: SeverityCritical, Timestamp: day(3)},
		{Severity: SeverityLow, Timestamp: day(1)},
		{Severity: SeverityHigh, Timestamp: day(30)},
	}
	iocs := []IOC{{FirstSeen: day(2)}}

	points := Trends(feeds, iocs, 3, now)

	assert.Equal(t, []TrendPoint{
		{Date: "2024-05-01", Feeds: 1},
		{Date: "2024-05-02", IOCs: 1},
		{Date: "2024-05-03", Feeds: 1, High: 1},
	}, points)
	assert.Empty(t, Trends(feeds, iocs, 0, now))
}

func TestThreatMap(t *testing.T) {
	got := ThreatMap(sampleFeeds(), sampleIOCs())
	assert.Equal(t, []SourceActivity{
		{Source: "ThreatFeed1", Feeds: 2, IOCs: 1, HighestSeverity: SeverityCritical},
		{Source: "ThreatFeed2", Feeds: 1, IOCs: 1, HighestSeverity: SeverityMedium},
	}, got)
}

func TestExportFilename(t *testing.T) {
	ts := time.Date(2024, 2, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "threat-intelligence-export-2024-02-09.json", ExportFilename(ts, ""))
	assert.Equal(t, "threat-intelligence-export-2024-02-09.cef", ExportFilename(ts, "cef"))
}
