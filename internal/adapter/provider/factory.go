package provider

import (
	"fmt"
	"net/http"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/ports"
)

// NewFactory returns a ports.ProviderFactory for custom sources. RSS is the
// default; csv sources are read as indicator lists.
func NewFactory(client *http.Client) ports.ProviderFactory {
	return func(src domain.FeedSource) (ports.ThreatProvider, error) {
		switch src.Type {
		case "", domain.SourceRSS:
			return NewRSSProvider(client, src.Name, src.URL), nil
		case domain.SourceCSV:
			return NewBlocklistProvider(client, src.Name, src.URL, "custom"), nil
		default:
			return nil, fmt.Errorf("%w: unsupported source type %q", domain.ErrInvalidInput, src.Type)
		}
	}
}
