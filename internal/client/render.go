package client

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const recentThreatsShown = 5

var severityIcon = map[domain.Severity]string{
	domain.SeverityCritical: "🔴",
	domain.SeverityHigh:     "🟠",
	domain.SeverityMedium:   "🟡",
	domain.SeverityLow:      "🟢",
}

// Dashboard is everything RenderDashboard draws.
type Dashboard struct {
	Snapshot  Snapshot
	Feeds     []domain.ThreatFeed
	IOCs      []domain.IOC
	Summaries []domain.AISummary
	Loading   bool
}

// DashboardFromStore uses the store's filtered views for the tables.
func DashboardFromStore(s *Store, summaries []domain.AISummary) Dashboard {
	return Dashboard{
		Snapshot:  s.Snapshot(),
		Feeds:     s.FilteredFeeds(),
		IOCs:      s.FilteredIOCs(),
		Summaries: summaries,
		Loading:   s.Loading(),
	}
}

func RenderDashboard(w io.Writer, d Dashboard) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := func(format string, args ...any) {
		fmt.Fprintf(tw, format, args...)
	}

	stats := d.Snapshot.Stats
	p("🛡️  THREAT INTELLIGENCE DASHBOARD\n")
	if d.Loading {
		p("(refreshing...)\n")
	}
	if !d.Snapshot.UpdatedAt.IsZero() {
		p("Last updated:\t%s\n", d.Snapshot.UpdatedAt.UTC().Format(time.RFC3339))
	}
	p("\n")

	p("Total feeds\tTotal IOCs\tHigh priority\tRecent (24h)\tThreat level\n")
	p("%d\t%d\t%d\t%d\t%s\n\n",
		stats.TotalFeeds, stats.TotalIOCs, stats.HighPriorityThreats, stats.RecentThreats, stats.ThreatLevel)
	if len(stats.TopThreatTypes) > 0 {
		p("Top threat types:\t%s\n\n", strings.Join(stats.TopThreatTypes, ", "))
	}

	p("SEVERITY DISTRIBUTION\n")
	for _, c := range domain.SeverityDistribution(d.Snapshot.Feeds) {
		p("%s %s\t%d\t%s\n", severityIcon[c.Severity], c.Severity, c.Count, strings.Repeat("█", c.Count))
	}
	p("\n")

	p("RECENT THREATS\n")
	recent := domain.RecentThreatFeeds(d.Snapshot.Feeds, recentThreatsShown)
	if len(recent) == 0 {
		p("  none\n")
	}
	for _, f := range recent {
		p("%s %s\t%s\t%s\n", severityIcon[f.Severity], f.Title, f.Source, f.Time().UTC().Format("2006-01-02 15:04"))
	}
	p("\n")

	if len(d.Summaries) > 0 {
		p("AI ANALYSIS\n")
		for _, s := range d.Summaries {
			p("[%s %d%%]\t%s\n", s.Type, s.Confidence, s.Content)
		}
		p("\n")
	}

	p("FEEDS (%d)\n", len(d.Feeds))
	p("SEVERITY\tTITLE\tSOURCE\tTAGS\n")
	for _, f := range d.Feeds {
		p("%s\t%s\t%s\t%s\n", f.Severity, f.Title, f.Source, strings.Join(f.Tags, ","))
	}
	p("\n")

	p("IOCS (%d)\n", len(d.IOCs))
	p("TYPE\tVALUE\tSOURCE\tCONFIDENCE\tFIRST SEEN\n")
	for _, i := range d.IOCs {
		p("%s\t%s\t%s\t%s\t%s\n", i.Type, i.Value, i.Source, i.Confidence, i.FirstSeenTime().UTC().Format("2006-01-02"))
	}

	return tw.Flush()
}
