package web

import (
	"net/http"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

// handleRecordLoad appends one load attempt reported by the ingestion job.
func (s *Server) handleRecordLoad(w http.ResponseWriter, r *http.Request) {
	var in core.NewLoadRecord
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}

	rec, err := s.service.RecordLoad(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rec)
}

// handleListLoads returns load attempts, newest first.
func (s *Server) handleListLoads(w http.ResponseWriter, r *http.Request) {
	f, err := parseHistoryFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	loads, err := s.service.ListLoadHistory(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, loads)
}

// handleListMetrics returns quality metrics, newest first.
func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	f, err := parseHistoryFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	metrics, err := s.service.ListQualityMetrics(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, metrics)
}

// handleLatestMetrics returns the newest record per (table, metric),
// optionally for one table.
func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.service.LatestMetrics(r.Context(), r.URL.Query().Get("table"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, metrics)
}
