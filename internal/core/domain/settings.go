package domain

type SourceType string

const (
	SourceRSS  SourceType = "rss"
	SourceCSV  SourceType = "csv"
	SourceJSON SourceType = "json"
	SourceAPI  SourceType = "api"
)

type SourceStatus string

const (
	SourceActive   SourceStatus = "active"
	SourceInactive SourceStatus = "inactive"
	SourceError    SourceStatus = "error"
)

// FeedSource is a user-registered collection endpoint.
type FeedSource struct {
	Name      string       `json:"name" validate:"required,min=2,max=64"`
	URL       string       `json:"url" validate:"required,url"`
	Type      SourceType   `json:"type" validate:"omitempty,oneof=rss csv json api"`
	Enabled   bool         `json:"enabled"`
	LastCheck string       `json:"lastCheck,omitempty"`
	Status    SourceStatus `json:"status,omitempty"`
}

type Settings struct {
	Theme                  string       `json:"theme" validate:"oneof=light dark auto"`
	Notifications          bool         `json:"notifications"`
	AutoRefresh            bool         `json:"autoRefresh"`
	RefreshIntervalMinutes int          `json:"refreshIntervalMinutes" validate:"min=1,max=1440"`
	Sources                []FeedSource `json:"sources" validate:"dive"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:                  "auto",
		Notifications:          true,
		AutoRefresh:            true,
		RefreshIntervalMinutes: 5,
		Sources:                []FeedSource{},
	}
}
