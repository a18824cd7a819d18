package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

func (s *Server) handleTableStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.TableStats(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "table"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	column, err := requiredColumn(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	d, err := s.service.CheckDuplicates(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "table"), column)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleDateProfile(w http.ResponseWriter, r *http.Request) {
	column, err := requiredColumn(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	p, err := s.service.ProfileDateColumn(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "table"), column)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

// handleRecordProfile runs a profile (?kind=table|duplicates|dates) and
// stores it as quality metrics.
func (s *Server) handleRecordProfile(w http.ResponseWriter, r *http.Request) {
	kind := core.ProfileKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = core.ProfileTable
	}

	recs, err := s.service.RecordProfile(r.Context(), kind,
		chi.URLParam(r, "schema"), chi.URLParam(r, "table"), r.URL.Query().Get("column"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, recs)
}

func requiredColumn(r *http.Request) (string, error) {
	column := r.URL.Query().Get("column")
	if column == "" {
		return "", badRequest("column", "query parameter is required")
	}
	return column, nil
}
