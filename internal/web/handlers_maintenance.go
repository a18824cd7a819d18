package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

// MaintenanceResponse is the body of a maintenance call. Error is set when
// some objects failed; the processed ones stay committed.
type MaintenanceResponse struct {
	core.MaintenanceResult
	Error *ErrorResponse `json:"error,omitempty"`
}

func (s *Server) handleRefreshViews(w http.ResponseWriter, r *http.Request) {
	s.runMaintenance(w, r, s.service.RefreshAllViews)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.runMaintenance(w, r, s.service.ReanalyzeSchema)
}

func (s *Server) runMaintenance(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, schema string) (core.MaintenanceResult, error)) {
	res, err := op(r.Context(), chi.URLParam(r, "schema"))

	var be *core.BatchError
	if err != nil && !errors.As(err, &be) {
		fail(w, r, err)
		return
	}

	if be == nil {
		writeJSON(w, MaintenanceResponse{MaintenanceResult: res})
		return
	}

	status := statusFor(err)
	msg := core.MapError(err)
	logRequestError(r, err, status, msg.Code)
	writeJSONStatus(w, status, MaintenanceResponse{
		MaintenanceResult: res,
		Error: &ErrorResponse{
			Error:    msg.Message,
			Message:  msg.Message,
			Action:   msg.Action,
			Code:     msg.Code,
			Failures: objectFailures(err),
		},
	})
}
