package report

import (
	"encoding/json"
	"fmt"
	"os"

	"databank/internal/model"
)

// JSONWriter renders a report as an indented JSON file.
type JSONWriter struct {
	path string
}

// NewJSONWriter creates a JSON writer targeting path.
func NewJSONWriter(path string) model.ReportWriter {
	return &JSONWriter{path: path}
}

// Write implements model.ReportWriter.
func (w *JSONWriter) Write(rep *model.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file '%s': %w", w.path, err)
	}
	return nil
}
