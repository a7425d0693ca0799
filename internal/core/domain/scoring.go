package domain

// ConfidenceFromSightings derives a confidence level from how many distinct
// sources reported the same observable.
func ConfidenceFromSightings(sources int) Confidence {
	switch {
	case sources >= 3:
		return ConfidenceHigh
	case sources == 2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ConfidenceScore is the numeric score used by the lookup API.
func ConfidenceScore(iocs []IOC) int32 {
	if len(iocs) == 0 {
		return 0
	}

	sources := make(map[string]bool)
	best := 0
	for _, ioc := range iocs {
		sources[ioc.Source] = true
		switch ioc.Confidence {
		case ConfidenceHigh:
			best = max(best, 80)
		case ConfidenceMedium:
			best = max(best, 60)
		default:
			best = max(best, 40)
		}
	}

	// Multiple sources increase confidence
	switch {
	case len(sources) >= 3:
		return 90
	case len(sources) == 2:
		return int32(max(best, 85))
	}
	return int32(best)
}

// MergeSightings collapses IOCs that share type and value. The merged entry
// keeps the earliest FirstSeen, the latest LastSeen, and its confidence is
// raised when several sources agree.
func MergeSightings(iocs []IOC) []IOC {
	type group struct {
		ioc     IOC
		sources map[string]bool
	}

	var order []string
	groups := make(map[string]*group)
	for _, ioc := range iocs {
		key := string(ioc.Type) + "|" + NormalizeIOCValue(ioc.Value, ioc.Type)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{ioc: ioc, sources: map[string]bool{ioc.Source: true}}
			order = append(order, key)
			continue
		}
		g.sources[ioc.Source] = true
		if ioc.FirstSeen != 0 && (g.ioc.FirstSeen == 0 || ioc.FirstSeen < g.ioc.FirstSeen) {
			g.ioc.FirstSeen = ioc.FirstSeen
		}
		if ioc.LastSeen > g.ioc.LastSeen {
			g.ioc.LastSeen = ioc.LastSeen
		}
	}

	out := make([]IOC, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if byCount := ConfidenceFromSightings(len(g.sources)); confidenceRank(byCount) > confidenceRank(g.ioc.Confidence) {
			g.ioc.Confidence = byCount
		}
		out = append(out, g.ioc)
	}
	return out
}

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}
