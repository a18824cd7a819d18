// Package templates renders the HTML pages served by the web package.
package templates

//go:generate templ generate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

// DashboardData is everything the quality dashboard shows.
type DashboardData struct {
	GeneratedAt time.Time
	Summary     core.RunSummary
	Metrics     []core.QualityMetricRecord
	Loads       []core.LoadHistoryRecord
	ActiveRules int
	RunsActive  int
	RunsMax     int
}

func metricValue(v *float64) string {
	if v == nil {
		return "NULL"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func rowsLoaded(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func metricDetail(d core.MetricDetails) string {
	switch {
	case d.Error != "":
		return d.ErrorClass + ": " + d.Error
	case d.Expected != "":
		return fmt.Sprintf("expected %s, got %s", d.Expected, d.Actual)
	default:
		return ""
	}
}
