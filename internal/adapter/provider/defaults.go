package provider

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

// Blocklist is a plain-text indicator list collected by default.
type Blocklist struct {
	Name string
	URL  string
	Tag  string
}

var DefaultBlocklists = []Blocklist{
	{"abusech-feodo", "https://feodotracker.abuse.ch/downloads/ipblocklist.txt", "botnet_c2"},
	{"cins-army", "https://cinsscore.com/list/ci-badguys.txt", "bad_reputation"},
	{"binary-defense", "https://binarydefense.com/banlist.txt", "network_attack"},
	{"digitalside", "https://raw.githubusercontent.com/davidonzo/Threat-Intel/master/lists/latestips.txt", "generic_malware"},
	{"tor-exit-nodes", "https://check.torproject.org/torbulkexitlist", "anonymization_network"},
}

// Selection picks which built-in sources to collect.
type Selection struct {
	URLHaus       bool
	Blocklists    bool
	OTXAPIKey     string
	OSVEcosystems []string
	RSSFeeds      []string
}

// Defaults builds the configured set of built-in providers. OTX is only
// included when an API key is present.
func Defaults(client *http.Client, sel Selection) []ports.ThreatProvider {
	var out []ports.ThreatProvider

	if sel.URLHaus {
		out = append(out, NewURLHausProvider(client))
	}
	if sel.Blocklists {
		for _, b := range DefaultBlocklists {
			out = append(out, NewBlocklistProvider(client, b.Name, b.URL, b.Tag))
		}
	}
	for _, eco := range sel.OSVEcosystems {
		if eco = strings.TrimSpace(eco); eco != "" {
			out = append(out, NewOSVProvider(client, eco))
		}
	}
	if sel.OTXAPIKey != "" {
		out = append(out, NewOTXProvider(client, sel.OTXAPIKey))
	}
	for _, raw := range sel.RSSFeeds {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		out = append(out, NewRSSProvider(client, rssName(raw), raw))
	}
	return out
}

// rssName names a feed after its host, e.g. "rss:www.cisa.gov".
func rssName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "rss:" + raw
	}
	return "rss:" + u.Host
}
