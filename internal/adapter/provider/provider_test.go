package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.ThreatProvider = (*RSSProvider)(nil)
	_ ports.ThreatProvider = (*URLHausProvider)(nil)
	_ ports.ThreatProvider = (*BlocklistProvider)(nil)
	_ ports.ThreatProvider = (*OTXProvider)(nil)
	_ ports.ThreatProvider = (*OSVProvider)(nil)
)

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func findIOC(iocs []domain.IOC, typ domain.IOCType, value string) *domain.IOC {
	for i := range iocs {
		if iocs[i].Type == typ && iocs[i].Value == value {
			return &iocs[i]
		}
	}
	return nil
}

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Advisories</title>
  <item>
    <title>Ransomware gang exploits CVE-2024-21762</title>
    <link>https://news.example/ransomware</link>
    <description><![CDATA[<p>Payloads served from <b>198.51.100.7</b>.</p>]]></description>
    <category>Ransomware</category>
    <pubDate>Mon, 06 May 2024 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Quarterly newsletter</title>
    <link>https://news.example/newsletter</link>
    <description>Nothing to see.</description>
  </item>
</channel>
</rss>`

func TestRSSProvider_Collect(t *testing.T) {
	server := serve(t, rssBody)
	p := NewRSSProvider(server.Client(), "news", server.URL)

	got, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Feeds, 2)

	first := got.Feeds[0]
	assert.Equal(t, "Ransomware gang exploits CVE-2024-21762", first.Title)
	assert.Equal(t, domain.SeverityCritical, first.Severity)
	assert.Equal(t, "news", first.Source)
	assert.Equal(t, []string{"ransomware"}, first.Tags)
	assert.Equal(t, "Payloads served from 198.51.100.7 .", first.Summary)
	assert.Equal(t, int64(1714989600000), first.Timestamp)
	assert.Equal(t, domain.FeedID(first), first.ID)

	assert.Equal(t, domain.SeverityLow, got.Feeds[1].Severity)

	assert.NotNil(t, findIOC(got.IOCs, domain.CVE, "CVE-2024-21762"))
	ip := findIOC(got.IOCs, domain.IPAddress, "198.51.100.7")
	require.NotNil(t, ip)
	assert.Equal(t, domain.ConfidenceHigh, ip.Confidence)
}

func TestRSSProvider_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewRSSProvider(server.Client(), "news", server.URL).Collect(context.Background())
	assert.Error(t, err)
}

func TestURLHausProvider_Collect(t *testing.T) {
	body := `# comment
"1","2024-05-01 10:00:00","http://198.0.2.12/malware.sh","online","2024-05-02 10:00:00","malware_download","elf,mirai","https://urlhaus.abuse.ch/url/1/","reporter"
"2","2024-05-01 11:00:00","https://evil.example.org/x","offline","","phishing","","https://urlhaus.abuse.ch/url/2/","reporter"
`
	server := serve(t, body)
	p := NewURLHausProvider(server.Client()).WithURL(server.URL)

	got, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Feeds)
	require.Len(t, got.IOCs, 4)

	url := findIOC(got.IOCs, domain.URL, "http://198.0.2.12/malware.sh")
	require.NotNil(t, url)
	assert.Equal(t, domain.ConfidenceHigh, url.Confidence)
	assert.Equal(t, []string{"malware_download", "elf", "mirai"}, url.Tags)
	assert.NotZero(t, url.LastSeen)

	assert.NotNil(t, findIOC(got.IOCs, domain.IPAddress, "198.0.2.12"))
	host := findIOC(got.IOCs, domain.Domain, "evil.example.org")
	require.NotNil(t, host)
	assert.Equal(t, domain.ConfidenceMedium, host.Confidence)
}

func TestBlocklistProvider_Collect(t *testing.T) {
	body := `# Firehol style list
203.0.113.10
203.0.113.10
198.51.100.3:8080 # port suffix
http://bad.example.net/dropper
// c-style comment
44d88612fea8a8f36de82e1278abb02f
phish.example.com	score=9
`
	server := serve(t, body)
	p := NewBlocklistProvider(server.Client(), "firehol", server.URL)

	got, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "firehol", p.Name())
	assert.NotNil(t, findIOC(got.IOCs, domain.IPAddress, "203.0.113.10"))
	assert.NotNil(t, findIOC(got.IOCs, domain.IPAddress, "198.51.100.3"))
	assert.NotNil(t, findIOC(got.IOCs, domain.URL, "http://bad.example.net/dropper"))
	assert.NotNil(t, findIOC(got.IOCs, domain.Domain, "bad.example.net"))
	assert.NotNil(t, findIOC(got.IOCs, domain.FileHash, "44d88612fea8a8f36de82e1278abb02f"))
	assert.NotNil(t, findIOC(got.IOCs, domain.Domain, "phish.example.com"))
	assert.Len(t, got.IOCs, 6)
	assert.Equal(t, []string{"blocklist"}, got.IOCs[0].Tags)
}

func TestDetectIOCType(t *testing.T) {
	tests := []struct {
		value    string
		expected domain.IOCType
	}{
		{"https://x.example/a", domain.URL},
		{"10.1.2.3", domain.IPAddress},
		{"10.1.2.0/24", domain.IPAddress},
		{"2001:db8::1", domain.IPAddress},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", domain.FileHash},
		{"abuse@example.com", domain.Email},
		{"example.com", domain.Domain},
	}

	for _, tt := range tests {
		if got := detectIOCType(tt.value); got != tt.expected {
			t.Errorf("detectIOCType(%q) = %s, want %s", tt.value, got, tt.expected)
		}
	}
}

func TestOTXProvider_Collect(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-OTX-API-KEY")
		w.Write([]byte(`{"results":[{"id":"abc","name":"Botnet infrastructure","description":"C2 nodes","created":"2024-05-01T10:00:00.000000","tags":["botnet"],
			"indicators":[
				{"indicator":"203.0.113.5","type":"IPv4","created":"2024-05-01T11:00:00"},
				{"indicator":"CVE-2023-1234","type":"CVE","created":""},
				{"indicator":"mutex-name","type":"Mutex","created":""}
			]}]}`))
	}))
	defer server.Close()

	p := NewOTXProvider(server.Client(), "secret").WithURL(server.URL)
	got, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	require.Len(t, got.Feeds, 1)
	assert.Equal(t, domain.SeverityHigh, got.Feeds[0].Severity)
	assert.Equal(t, "https://otx.alienvault.com/pulse/abc", got.Feeds[0].URL)

	require.Len(t, got.IOCs, 2)
	assert.Equal(t, domain.IPAddress, got.IOCs[0].Type)
	assert.Equal(t, domain.ConfidenceHigh, got.IOCs[0].Confidence)
	assert.Equal(t, domain.CVE, got.IOCs[1].Type)
	assert.Equal(t, got.Feeds[0].Timestamp, got.IOCs[1].FirstSeen)
}

func TestOTXProvider_MissingKey(t *testing.T) {
	_, err := NewOTXProvider(nil, "").Collect(context.Background())
	assert.Error(t, err)
}

func TestOSVProvider_Collect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"MAL-2024-1.json": `{"id":"MAL-2024-1","summary":"Malicious code in evil-pkg","affected":[{"package":{"name":"evil-pkg"}}],"modified":"2024-05-02T00:00:00Z","published":"2024-05-01T00:00:00Z"}`,
		"GHSA-1.json":     `{"id":"GHSA-xxxx","summary":"Prototype pollution","aliases":["CVE-2024-9999"],"affected":[{"package":{"name":"lodash"}}],"modified":"2024-04-02T00:00:00Z"}`,
		"README.txt":      "ignored",
	}
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		w.Write([]byte(content))
	}
	require.NoError(t, zw.Close())

	server := serve(t, buf.String())
	p := NewOSVProvider(server.Client(), "npm").WithBaseURL(server.URL)

	got, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "google-osv-npm", p.Name())
	require.Len(t, got.Feeds, 2)
	assert.Equal(t, "MAL-2024-1: Malicious code in evil-pkg", got.Feeds[0].Title)
	assert.Equal(t, domain.SeverityCritical, got.Feeds[0].Severity)
	assert.Contains(t, got.Feeds[0].Tags, "supply-chain")
	assert.Equal(t, "Prototype pollution Affects lodash.", got.Feeds[1].Summary)

	require.Len(t, got.IOCs, 1)
	assert.Equal(t, "CVE-2024-9999", got.IOCs[0].Value)
}

func TestInferSeverity(t *testing.T) {
	tests := []struct {
		text     string
		expected domain.Severity
	}{
		{"Zero-day exploited in the wild", domain.SeverityCritical},
		{"New phishing kit", domain.SeverityHigh},
		{"Open source project update", domain.SeverityLow},
		{"Vulnerability disclosed in router", domain.SeverityMedium},
	}

	for _, tt := range tests {
		if got := inferSeverity(tt.text); got != tt.expected {
			t.Errorf("inferSeverity(%q) = %s, want %s", tt.text, got, tt.expected)
		}
	}
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(http.DefaultClient)

	p, err := factory(domain.FeedSource{Name: "vendor-blog", URL: "https://example.org/rss"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*RSSProvider); !ok || p.Name() != "vendor-blog" {
		t.Errorf("expected RSS provider named vendor-blog, got %T %q", p, p.Name())
	}

	p, err = factory(domain.FeedSource{Name: "ips", URL: "https://example.org/ips.csv", Type: domain.SourceCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*BlocklistProvider); !ok {
		t.Errorf("expected blocklist provider, got %T", p)
	}

	if _, err := factory(domain.FeedSource{Name: "api", URL: "https://example.org", Type: domain.SourceAPI}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	providers := Defaults(http.DefaultClient, Selection{
		URLHaus:       true,
		Blocklists:    true,
		OSVEcosystems: []string{"npm", " ", "PyPI"},
		RSSFeeds:      []string{"https://www.cisa.gov/cybersecurity-advisories/all.xml"},
	})

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	assert.Len(t, providers, 1+len(DefaultBlocklists)+2+1)
	assert.Contains(t, names, "abusech-urlhaus")
	assert.Contains(t, names, "tor-exit-nodes")
	assert.Contains(t, names, "google-osv-pypi")
	assert.Contains(t, names, "rss:www.cisa.gov")
	assert.NotContains(t, names, "alienvault-otx")

	withOTX := Defaults(http.DefaultClient, Selection{OTXAPIKey: "key"})
	require.Len(t, withOTX, 1)
	assert.Equal(t, "alienvault-otx", withOTX[0].Name())
}
