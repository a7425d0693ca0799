package domain

import "time"

type IOCType string

const (
	IPAddress IOCType = "ip"
	Domain    IOCType = "domain"
	URL       IOCType = "url"
	FileHash  IOCType = "hash"
	CVE       IOCType = "cve"
	Email     IOCType = "email"
)

func (t IOCType) Valid() bool {
	switch t {
	case IPAddress, Domain, URL, FileHash, CVE, Email:
		return true
	}
	return false
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// IOC is an observable tied to malicious activity. FirstSeen and LastSeen are
// epoch milliseconds; LastSeen is zero when the source never reported it.
type IOC struct {
	ID          string     `json:"id"`
	Type        IOCType    `json:"type"`
	Value       string     `json:"value"`
	Source      string     `json:"source"`
	Confidence  Confidence `json:"confidence"`
	FirstSeen   int64      `json:"firstSeen"`
	LastSeen    int64      `json:"lastSeen,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Description string     `json:"description,omitempty"`
}

func (i IOC) FirstSeenTime() time.Time {
	return time.UnixMilli(i.FirstSeen)
}

// Key identifies the same observable reported by the same source.
func (i IOC) Key() string {
	return string(i.Type) + "|" + i.Value + "|" + i.Source
}
