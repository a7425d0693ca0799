package exporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

// JSONExporter writes the bundle exactly as the dashboard export endpoint returns it
type JSONExporter struct{}

func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

func (e *JSONExporter) Format() string      { return FormatJSON }
func (e *JSONExporter) ContentType() string { return "application/json" }

func (e *JSONExporter) Export(_ context.Context, bundle domain.ExportBundle) ([]byte, error) {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export bundle: %w", err)
	}
	return data, nil
}
