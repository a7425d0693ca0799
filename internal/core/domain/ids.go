package domain

import (
	"strings"

	"github.com/google/uuid"
)

var idNamespace = uuid.MustParse("4f1f3c0e-7d2a-4b8e-9a51-3c6f0d2e8b17")

// StableID derives a deterministic identifier so that re-collecting the same
// item from the same source does not create duplicates.
func StableID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

func NewID() string {
	return uuid.NewString()
}

// FeedID is the stable id of a collected feed item.
func FeedID(f ThreatFeed) string {
	key := f.URL
	if key == "" {
		key = f.Title
	}
	return StableID("feed", f.Source, key)
}

// IOCID is the stable id of an indicator reported by a source.
func IOCID(i IOC) string {
	return StableID("ioc", string(i.Type), i.Value, i.Source)
}
