package domain

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern    = regexp.MustCompile(`\bhttps?://[^\s"'<>()\[\]]+`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	ipv4Pattern   = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	cvePattern    = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`)
	hashPattern   = regexp.MustCompile(`\b(?:[A-Fa-f0-9]{64}|[A-Fa-f0-9]{40}|[A-Fa-f0-9]{32})\b`)
	domainPattern = regexp.MustCompile(`\b(?:[A-Za-z0-9](?:[A-Za-z0-9\-]{0,61}[A-Za-z0-9])?\.)+[A-Za-z]{2,24}\b`)
)

// Extensions that look like TLDs but show up as file names in advisories.
var fileLikeTLDs = map[string]bool{
	"exe": true, "dll": true, "sh": true, "ps1": true, "js": true, "py": true,
	"zip": true, "rar": true, "doc": true, "docx": true, "pdf": true, "txt": true,
	"html": true, "php": true, "bin": true, "elf": true, "jar": true,
}

// ConfidenceForSeverity maps a feed severity to the confidence of indicators
// extracted from it.
func ConfidenceForSeverity(s Severity) Confidence {
	switch s {
	case SeverityCritical, SeverityHigh:
		return ConfidenceHigh
	case SeverityMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ExtractIndicators scans the free text of a feed item for observables.
// Results are deduplicated and attributed to the feed's source.
func ExtractIndicators(feed ThreatFeed) []IOC {
	text := strings.Join([]string{feed.Title, feed.Summary, feed.Content}, "\n")
	base := IOC{
		Source:      feed.Source,
		Confidence:  ConfidenceForSeverity(feed.Severity),
		FirstSeen:   feed.Timestamp,
		Tags:        feed.Tags,
		Description: feed.Title,
	}

	seen := make(map[string]bool)
	var out []IOC
	add := func(t IOCType, value string) {
		value = NormalizeIOCValue(value, t)
		if value == "" {
			return
		}
		key := string(t) + "|" + value
		if seen[key] {
			return
		}
		seen[key] = true
		ioc := base
		ioc.Type = t
		ioc.Value = value
		out = append(out, ioc)
	}

	// URLs and e-mails are consumed first so their hosts are not reported twice.
	rest := text
	for _, u := range urlPattern.FindAllString(rest, -1) {
		u = strings.TrimRight(u, ".,;:")
		add(URL, u)
		for _, c := range ExtractIOCComponents(u, IOC{})[1:] {
			add(c.Type, c.Value)
		}
	}
	rest = urlPattern.ReplaceAllString(rest, " ")

	for _, e := range emailPattern.FindAllString(rest, -1) {
		add(Email, e)
	}
	rest = emailPattern.ReplaceAllString(rest, " ")

	for _, c := range cvePattern.FindAllString(rest, -1) {
		add(CVE, c)
	}
	for _, h := range hashPattern.FindAllString(rest, -1) {
		add(FileHash, h)
	}
	for _, ip := range ipv4Pattern.FindAllString(rest, -1) {
		add(IPAddress, ip)
	}
	rest = ipv4Pattern.ReplaceAllString(rest, " ")

	for _, d := range domainPattern.FindAllString(rest, -1) {
		if looksLikeDomain(d) {
			add(Domain, d)
		}
	}

	return out
}

func looksLikeDomain(candidate string) bool {
	i := strings.LastIndex(candidate, ".")
	if i < 0 {
		return false
	}
	tld := strings.ToLower(candidate[i+1:])
	return !fileLikeTLDs[tld]
}

// ExtractIOCComponents extracts multiple IOCs from a complex value
// For example, "http://198.0.2.12/malware.sh" produces:
// - Full URL IOC
// - IP address IOC (or domain IOC if the host is a name)
func ExtractIOCComponents(value string, sourceIOC IOC) []IOC {
	components := []IOC{sourceIOC}

	derive := func(t IOCType, v, tag string) IOC {
		c := sourceIOC
		c.ID = ""
		c.Type = t
		c.Value = v
		c.Tags = append([]string{tag}, sourceIOC.Tags...)
		return c
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil {
			host := u.Hostname()
			if host != "" && host != value {
				if net.ParseIP(host) != nil {
					components = append(components, derive(IPAddress, host, "extracted-from-url"))
				} else {
					components = append(components, derive(Domain, host, "extracted-from-url"))
				}
			}
		}
		return components
	}

	// "198.0.2.12:8080" or "198.0.2.12/path"
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ':' || r == '/' || r == '?'
	})
	for _, part := range parts {
		if net.ParseIP(part) != nil && part != value {
			components = append(components, derive(IPAddress, part, "extracted-from-value"))
			break
		}
	}

	return components
}

// NormalizeIOCValue normalizes IOC values for better matching
func NormalizeIOCValue(value string, iocType IOCType) string {
	value = strings.TrimSpace(value)
	switch iocType {
	case URL:
		value = strings.ToLower(value)
		return strings.TrimSuffix(value, "/")
	case Domain, Email, FileHash:
		return strings.ToLower(strings.TrimSuffix(value, "."))
	case CVE:
		return strings.ToUpper(value)
	default:
		return value
	}
}
