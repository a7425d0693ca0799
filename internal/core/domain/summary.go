package domain

type SummaryType string

const (
	SummaryTypeSummary    SummaryType = "summary"
	SummaryTypeTrend      SummaryType = "trend"
	SummaryTypePrediction SummaryType = "prediction"
)

func (t SummaryType) Valid() bool {
	switch t {
	case SummaryTypeSummary, SummaryTypeTrend, SummaryTypePrediction:
		return true
	}
	return false
}

// AISummary is a generated analysis paragraph. Confidence is 0-100.
type AISummary struct {
	ID         string      `json:"id"`
	Type       SummaryType `json:"type"`
	Content    string      `json:"content"`
	Timestamp  int64       `json:"timestamp"`
	Confidence int         `json:"confidence"`
}

// ClampConfidence bounds a confidence score to 0-100.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
