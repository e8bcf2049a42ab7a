package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"databank/internal/config"
	"databank/internal/engine/seriesaggregator"
	"databank/internal/model"
	"databank/internal/query"
	"databank/internal/walker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Build the in-memory report once at startup; the API serves the
	// completed result of this single run.
	agg := seriesaggregator.New(walker.New(osfs.New(cfg.Scanner.Root)))
	series, err := agg.Aggregate(".")
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}
	rep := &model.Report{
		RunID:       uuid.NewString(),
		Root:        cfg.Scanner.Root,
		GeneratedAt: time.Now(),
		Series:      series,
	}
	log.Printf("Run %s complete: %d series, %d images.", rep.RunID, len(series), rep.ImageCount())

	// Initialize router
	r := mux.NewRouter()

	apiHandler := &APIHandler{querier: query.NewReportQuerier(rep), report: rep}

	// Define API routes
	r.HandleFunc("/api/v1/report", apiHandler.reportHandler).Methods("GET")
	r.HandleFunc("/api/v1/series", apiHandler.listSeriesHandler).Methods("GET")
	r.HandleFunc("/api/v1/series/{uid}", apiHandler.getSeriesHandler).Methods("GET")
	r.HandleFunc("/api/v1/series/{uid}/inconsistencies", apiHandler.inconsistenciesHandler).Methods("GET")

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("API server exited.")
}
