package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/web/templates"
)

// dashboardLoads is how many recent load attempts the dashboard lists.
const dashboardLoads = 20

// handleDashboard renders the latest quality status per (table, metric).
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	metrics, err := s.service.LatestMetrics(ctx, "")
	if err != nil {
		fail(w, r, err)
		return
	}

	// Loads and rules are secondary; render without them rather than fail.
	loads, err := s.service.ListLoadHistory(ctx, core.HistoryFilter{Limit: dashboardLoads})
	if err != nil {
		requestLogger(r).Warn("dashboard: load history unavailable", "error", err)
	}
	rules, err := s.service.ListActiveRules(ctx)
	if err != nil {
		requestLogger(r).Warn("dashboard: rule list unavailable", "error", err)
	}

	runs := s.service.RunLimiter().Status()
	data := templates.DashboardData{
		GeneratedAt: time.Now().UTC(),
		Summary:     core.Summarize(metrics),
		Metrics:     metrics,
		Loads:       loads,
		ActiveRules: len(rules),
		RunsActive:  runs.Active,
		RunsMax:     runs.MaxConcurrent,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(ctx, w); err != nil {
		requestLogger(r).Error("dashboard render failed", "error", err)
	}
}
