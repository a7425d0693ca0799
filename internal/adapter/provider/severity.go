package provider

import (
	"strings"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

var severityKeywords = []struct {
	severity domain.Severity
	words    []string
}{
	{domain.SeverityCritical, []string{"zero-day", "0-day", "0day", "actively exploited", "critical", "ransomware", "remote code execution", "rce"}},
	{domain.SeverityHigh, []string{"exploit", "malware", "botnet", "phishing", "backdoor", "c2", "command and control", "trojan", "breach"}},
	{domain.SeverityMedium, []string{"vulnerability", "cve-", "campaign", "suspicious", "scanner", "spam"}},
}

// inferSeverity grades free text by the most severe keyword it mentions.
func inferSeverity(texts ...string) domain.Severity {
	text := strings.ToLower(strings.Join(texts, " "))
	for _, level := range severityKeywords {
		for _, w := range level.words {
			if containsWord(text, w) {
				return level.severity
			}
		}
	}
	return domain.SeverityLow
}

// containsWord avoids matching "rce" inside "source".
func containsWord(text, word string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordChar(text[start-1])) && (end == len(text) || !isWordChar(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}
