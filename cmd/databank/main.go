package main

import (
	"flag"
	"log"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"databank/internal/config"
	"databank/internal/engine/seriesaggregator"
	"databank/internal/model"
	"databank/internal/query"
	"databank/internal/report"
	"databank/internal/walker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	rootPath := flag.String("root", "", "directory to scan (overrides the configured root)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	root := cfg.Scanner.Root
	if *rootPath != "" {
		root = *rootPath
	}

	runID := uuid.NewString()
	log.Printf("Starting run %s on %s", runID, root)

	agg := seriesaggregator.New(walker.New(osfs.New(root)))
	series, err := agg.Aggregate(".")
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}

	rep := &model.Report{
		RunID:       runID,
		Root:        root,
		GeneratedAt: time.Now(),
		Series:      series,
	}

	for _, w := range report.NewWriters(cfg.Report.Writers) {
		if err := w.Write(rep); err != nil {
			log.Printf("Error writing report: %v", err)
		}
	}

	q := query.NewReportQuerier(rep)
	inconsistent := 0
	for _, s := range q.ListSeries() {
		if fields, _ := q.Inconsistencies(s.SeriesInstanceUID); len(fields) > 0 {
			inconsistent++
			for field, values := range fields {
				log.Printf("series %s has %d values for %s", s.SeriesInstanceUID, len(values), field)
			}
		}
	}

	log.Printf("Run %s complete: %d series, %d images, %d inconsistent series.",
		runID, len(series), rep.ImageCount(), inconsistent)
}
