package domain

import (
	"testing"
)

func TestExtractIOCComponents(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantTypes []IOCType
		wantVals  []string
	}{
		{"URL with IP host", "http://198.0.2.12/malware.sh", []IOCType{URL, IPAddress}, []string{"http://198.0.2.12/malware.sh", "198.0.2.12"}},
		{"URL with domain", "https://evil.example.org/x", []IOCType{URL, Domain}, []string{"https://evil.example.org/x", "evil.example.org"}},
		{"IP with port", "198.0.2.12:8080", []IOCType{IPAddress, IPAddress}, []string{"198.0.2.12:8080", "198.0.2.12"}},
		{"Plain domain", "evil.example.org", []IOCType{Domain}, []string{"evil.example.org"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := IOC{Value: tt.value, Type: tt.wantTypes[0], Source: "urlhaus"}
			got := ExtractIOCComponents(tt.value, base)
			if len(got) != len(tt.wantVals) {
				t.Fatalf("ExtractIOCComponents(%q) returned %d IOCs, want %d", tt.value, len(got), len(tt.wantVals))
			}
			for i := range got {
				if got[i].Type != tt.wantTypes[i] || got[i].Value != tt.wantVals[i] {
					t.Errorf("component %d = %s/%s, want %s/%s", i, got[i].Type, got[i].Value, tt.wantTypes[i], tt.wantVals[i])
				}
				if got[i].Source != "urlhaus" {
					t.Errorf("component %d lost its source", i)
				}
			}
		})
	}
}

func TestExtractIndicators(t *testing.T) {
	feed := ThreatFeed{
		Title:     "Loader drops payload from http://203.0.113.7/p.exe",
		Summary:   "Operators abuse CVE-2024-3400 and contact admin@evil-mail.net. C2 at 198.51.100.23 and update-check.xyz.",
		Content:   "SHA256 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 seen in dropper.exe",
		Source:    "CERT",
		Severity:  SeverityCritical,
		Timestamp: 1234,
	}

	got := ExtractIndicators(feed)

	want := map[IOCType]string{
		URL:      "http://203.0.113.7/p.exe",
		CVE:      "CVE-2024-3400",
		Email:    "admin@evil-mail.net",
		FileHash: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Domain:   "update-check.xyz",
	}
	found := make(map[string]bool)
	for _, ioc := range got {
		found[string(ioc.Type)+"|"+ioc.Value] = true
		if ioc.Source != "CERT" || ioc.Confidence != ConfidenceHigh || ioc.FirstSeen != 1234 {
			t.Errorf("unexpected attribution on %+v", ioc)
		}
		if ioc.Type == Domain && (ioc.Value == "dropper.exe" || ioc.Value == "evil-mail.net") {
			t.Errorf("unexpected domain %q", ioc.Value)
		}
	}
	for typ, val := range want {
		if !found[string(typ)+"|"+val] {
			t.Errorf("missing %s %q in %+v", typ, val, got)
		}
	}
	for _, ip := range []string{"203.0.113.7", "198.51.100.23"} {
		if !found["ip|"+ip] {
			t.Errorf("missing ip %q", ip)
		}
	}
}

func TestExtractIndicators_Deduplicates(t *testing.T) {
	feed := ThreatFeed{Summary: "10.0.0.1 and again 10.0.0.1", Severity: SeverityLow}
	got := ExtractIndicators(feed)
	if len(got) != 1 {
		t.Fatalf("got %d indicators, want 1: %+v", len(got), got)
	}
	if got[0].Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", got[0].Confidence)
	}
}

func TestNormalizeIOCValue(t *testing.T) {
	tests := []struct {
		value    string
		iocType  IOCType
		expected string
	}{
		{"HTTP://Evil.COM/", URL, "http://evil.com"},
		{"Evil.COM.", Domain, "evil.com"},
		{" 10.0.0.1 ", IPAddress, "10.0.0.1"},
		{"cve-2021-44228", CVE, "CVE-2021-44228"},
	}

	for _, tt := range tests {
		if got := NormalizeIOCValue(tt.value, tt.iocType); got != tt.expected {
			t.Errorf("NormalizeIOCValue(%q, %s) = %q, want %q", tt.value, tt.iocType, got, tt.expected)
		}
	}
}

func TestMergeSightings(t *testing.T) {
	iocs := []IOC{
		{Type: IPAddress, Value: "10.0.0.1", Source: "a", Confidence: ConfidenceLow, FirstSeen: 300},
		{Type: IPAddress, Value: "10.0.0.1", Source: "b", Confidence: ConfidenceLow, FirstSeen: 100, LastSeen: 900},
		{Type: Domain, Value: "x.com", Source: "a", Confidence: ConfidenceHigh, FirstSeen: 50},
	}

	got := MergeSightings(iocs)
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[0].FirstSeen != 100 || got[0].LastSeen != 900 || got[0].Confidence != ConfidenceMedium {
		t.Errorf("merged ip = %+v", got[0])
	}
	if got[1].Confidence != ConfidenceHigh {
		t.Errorf("single sighting lost its confidence: %+v", got[1])
	}
	if ConfidenceScore(iocs) != 85 {
		t.Errorf("ConfidenceScore = %d, want 85", ConfidenceScore(iocs))
	}
}
