package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query parameter names recognised by ParseFilterOptions. Anything else in the
// query string is ignored.
const (
	ParamSeverity   = "severity"
	ParamSource     = "source"
	ParamIOCType    = "iocType"
	ParamConfidence = "confidence"
	ParamDateFrom   = "dateFrom"
	ParamDateTo     = "dateTo"
	ParamSearch     = "search"
)

// FilterOptions narrows feeds and IOCs. A zero field imposes no constraint.
// DateFrom and DateTo are inclusive epoch-millisecond bounds.
type FilterOptions struct {
	Severity   Severity   `json:"severity,omitempty"`
	Source     string     `json:"source,omitempty"`
	IOCType    IOCType    `json:"iocType,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	DateFrom   *int64     `json:"dateFrom,omitempty"`
	DateTo     *int64     `json:"dateTo,omitempty"`
	Search     string     `json:"search,omitempty"`
}

// IsZero reports whether no dimension is constrained.
func (f FilterOptions) IsZero() bool {
	return f.Severity == "" && f.Source == "" && f.IOCType == "" && f.Confidence == "" &&
		f.DateFrom == nil && f.DateTo == nil && f.Search == ""
}

// ParseFilterOptions reads the recognised filter keys from a query string.
// Enum values are passed through as-is; only malformed dates are rejected.
func ParseFilterOptions(q url.Values) (FilterOptions, error) {
	opts := FilterOptions{
		Severity:   Severity(strings.TrimSpace(q.Get(ParamSeverity))),
		Source:     strings.TrimSpace(q.Get(ParamSource)),
		IOCType:    IOCType(strings.TrimSpace(q.Get(ParamIOCType))),
		Confidence: Confidence(strings.TrimSpace(q.Get(ParamConfidence))),
		Search:     strings.TrimSpace(q.Get(ParamSearch)),
	}

	if raw := q.Get(ParamDateFrom); raw != "" {
		ms, err := ParseInstant(raw)
		if err != nil {
			return FilterOptions{}, fmt.Errorf("%w: dateFrom: %v", ErrInvalidFilter, err)
		}
		opts.DateFrom = &ms
	}
	if raw := q.Get(ParamDateTo); raw != "" {
		ms, err := ParseInstantEnd(raw)
		if err != nil {
			return FilterOptions{}, fmt.Errorf("%w: dateTo: %v", ErrInvalidFilter, err)
		}
		opts.DateTo = &ms
	}

	return opts, nil
}

const dateLayout = "2006-01-02"

// ParseInstant accepts epoch milliseconds, RFC3339 or a YYYY-MM-DD date
// (midnight UTC) and returns epoch milliseconds. Use it for lower bounds.
func ParseInstant(raw string) (int64, error) {
	ms, _, err := parseInstant(raw)
	return ms, err
}

// ParseInstantEnd is ParseInstant for inclusive upper bounds: a bare date
// means the last millisecond of that day, so the whole day is included.
func ParseInstantEnd(raw string) (int64, error) {
	ms, dateOnly, err := parseInstant(raw)
	if err == nil && dateOnly {
		ms += (24 * time.Hour).Milliseconds() - 1
	}
	return ms, err
}

func parseInstant(raw string) (int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), false, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UnixMilli(), true, nil
	}
	return 0, false, fmt.Errorf("unrecognised instant %q", raw)
}

// Values encodes only the fields that are set, for use as a query string.
func (f FilterOptions) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set(ParamSeverity, string(f.Severity))
	set(ParamSource, f.Source)
	set(ParamIOCType, string(f.IOCType))
	set(ParamConfidence, string(f.Confidence))
	if f.DateFrom != nil {
		set(ParamDateFrom, strconv.FormatInt(*f.DateFrom, 10))
	}
	if f.DateTo != nil {
		set(ParamDateTo, strconv.FormatInt(*f.DateTo, 10))
	}
	set(ParamSearch, f.Search)
	return v
}

func (f FilterOptions) inRange(ts int64) bool {
	if f.DateFrom != nil && ts < *f.DateFrom {
		return false
	}
	if f.DateTo != nil && ts > *f.DateTo {
		return false
	}
	return true
}

// MatchFeed applies severity, source and date range. IOC type and confidence
// are not feed dimensions.
func (f FilterOptions) MatchFeed(feed ThreatFeed) bool {
	if f.Severity != "" && feed.Severity != f.Severity {
		return false
	}
	if f.Source != "" && feed.Source != f.Source {
		return false
	}
	return f.inRange(feed.Timestamp)
}

// MatchIOC applies source, IOC type, confidence and date range against FirstSeen.
// Severity is not an IOC dimension.
func (f FilterOptions) MatchIOC(ioc IOC) bool {
	if f.Source != "" && ioc.Source != f.Source {
		return false
	}
	if f.IOCType != "" && ioc.Type != f.IOCType {
		return false
	}
	if f.Confidence != "" && ioc.Confidence != f.Confidence {
		return false
	}
	return f.inRange(ioc.FirstSeen)
}

func containsFold(field, needle string) bool {
	return strings.Contains(strings.ToLower(field), needle)
}

// FeedMatchesQuery is a case-insensitive substring match over title, summary,
// tags and source.
func FeedMatchesQuery(feed ThreatFeed, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if containsFold(feed.Title, q) || containsFold(feed.Summary, q) || containsFold(feed.Source, q) {
		return true
	}
	for _, tag := range feed.Tags {
		if containsFold(tag, q) {
			return true
		}
	}
	return false
}

// IOCMatchesQuery is a case-insensitive substring match over value, type and source.
func IOCMatchesQuery(ioc IOC, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return containsFold(ioc.Value, q) || containsFold(string(ioc.Type), q) || containsFold(ioc.Source, q)
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// FilterFeeds applies the structured filters and opts.Search.
func FilterFeeds(feeds []ThreatFeed, opts FilterOptions) []ThreatFeed {
	return filter(feeds, func(f ThreatFeed) bool {
		return opts.MatchFeed(f) && FeedMatchesQuery(f, opts.Search)
	})
}

// FilterIOCs applies the structured filters and opts.Search.
func FilterIOCs(iocs []IOC, opts FilterOptions) []IOC {
	return filter(iocs, func(i IOC) bool {
		return opts.MatchIOC(i) && IOCMatchesQuery(i, opts.Search)
	})
}

func SearchFeeds(feeds []ThreatFeed, query string) []ThreatFeed {
	return filter(feeds, func(f ThreatFeed) bool { return FeedMatchesQuery(f, query) })
}

func SearchIOCs(iocs []IOC, query string) []IOC {
	return filter(iocs, func(i IOC) bool { return IOCMatchesQuery(i, query) })
}

// ApplyFeeds combines structured filters with a free-text query. Both must
// pass, so the result does not depend on evaluation order.
func ApplyFeeds(feeds []ThreatFeed, opts FilterOptions, query string) []ThreatFeed {
	return filter(feeds, func(f ThreatFeed) bool {
		return opts.MatchFeed(f) && FeedMatchesQuery(f, opts.Search) && FeedMatchesQuery(f, query)
	})
}

// ApplyIOCs is the IOC counterpart of ApplyFeeds.
func ApplyIOCs(iocs []IOC, opts FilterOptions, query string) []IOC {
	return filter(iocs, func(i IOC) bool {
		return opts.MatchIOC(i) && IOCMatchesQuery(i, opts.Search) && IOCMatchesQuery(i, query)
	})
}
