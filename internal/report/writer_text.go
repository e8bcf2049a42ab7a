// Package report renders the result of an aggregation run through
// configurable writers.
package report

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"databank/internal/config"
	"databank/internal/model"
)

// NewWriters builds the enabled report writers from the config definitions.
// Unknown writer types are logged and skipped.
func NewWriters(defs []config.WriterDef) []model.ReportWriter {
	writers := make([]model.ReportWriter, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		switch def.Type {
		case "text":
			writers = append(writers, NewTextWriter(def.Path))
		case "json":
			writers = append(writers, NewJSONWriter(def.Path))
		default:
			log.Printf("Warning: unknown writer type '%s' in config, skipping.", def.Type)
		}
	}
	return writers
}

// TextWriter renders a report as a human-readable text file.
type TextWriter struct {
	path string
}

// NewTextWriter creates a text writer targeting path.
func NewTextWriter(path string) model.ReportWriter {
	return &TextWriter{path: path}
}

// Write implements model.ReportWriter.
func (w *TextWriter) Write(rep *model.Report) error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create report file '%s': %w", w.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "run %s\nroot %s\ngenerated %s\nseries %d, images %d\n",
		rep.RunID, rep.Root, rep.GeneratedAt.Format(time.RFC3339),
		len(rep.Series), rep.ImageCount()); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	uids := make([]string, 0, len(rep.Series))
	for uid := range rep.Series {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		if err := writeSeries(f, rep.Series[uid]); err != nil {
			return fmt.Errorf("failed to write series %s: %w", uid, err)
		}
	}
	return nil
}

func writeSeries(f *os.File, s *model.SeriesAggregate) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nseries %s\n", s.SeriesInstanceUID)
	fmt.Fprintf(&b, "  images: %d\n", s.ImageCount())
	if s.TimeRange.Valid {
		fmt.Fprintf(&b, "  acquisition: %s .. %s\n",
			s.TimeRange.Min.Format(time.RFC3339), s.TimeRange.Max.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "  acquisition: no timestamps\n")
	}

	fields := make([]string, 0, len(s.FieldStats))
	for field := range s.FieldStats {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		ft := s.FieldStats[field]
		values := make([]string, 0, len(ft))
		for v := range ft {
			values = append(values, v)
		}
		sort.Strings(values)
		counts := make([]string, 0, len(values))
		for _, v := range values {
			counts = append(counts, fmt.Sprintf("%q: %d", v, ft[v]))
		}
		fmt.Fprintf(&b, "  %s: %s\n", field, strings.Join(counts, ", "))
	}

	_, err := f.WriteString(b.String())
	return err
}
