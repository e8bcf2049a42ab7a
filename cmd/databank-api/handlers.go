package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"databank/internal/model"
	"databank/internal/query"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier query.Querier
	report  *model.Report
}

// reportHandler returns the full report of the run.
func (h *APIHandler) reportHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.report)
}

// listSeriesHandler returns every series aggregate, ordered by UID.
func (h *APIHandler) listSeriesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.querier.ListSeries())
}

// getSeriesHandler returns the aggregate of a single series.
func (h *APIHandler) getSeriesHandler(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	series, ok := h.querier.GetSeries(uid)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown series: %s", uid), http.StatusNotFound)
		return
	}
	writeJSON(w, series)
}

// inconsistenciesHandler returns the fields of a series whose values
// disagree across files.
func (h *APIHandler) inconsistenciesHandler(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	fields, ok := h.querier.Inconsistencies(uid)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown series: %s", uid), http.StatusNotFound)
		return
	}
	writeJSON(w, fields)
}

func writeJSON(w http.ResponseWriter, payload any) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
