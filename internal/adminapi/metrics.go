package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/talkincode/toughwa/internal/whatsapp"
	"github.com/talkincode/toughwa/pkg/metrics"
)

var (
	reportedCounters = []string{
		whatsapp.MetricMessagesInbound,
		whatsapp.MetricMessagesDropped,
		whatsapp.MetricReconnects,
	}
	reportedGauges = []string{
		whatsapp.MetricConnectedInstances,
		"system_cpuuse",
		"system_memuse",
		"toughwa_cpuuse",
		"toughwa_memuse",
	}
)

type metricPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

func (s *Server) registerMetricRoutes(g *echo.Group) {
	g.GET("/metrics", s.currentMetrics)
	g.GET("/metrics/:name", s.metricHistory)
}

func (s *Server) currentMetrics(c echo.Context) error {
	counters := make(map[string]int64, len(reportedCounters))
	for _, name := range reportedCounters {
		counters[name] = metrics.Counter(name)
	}
	gauges := make(map[string]int64, len(reportedGauges))
	for _, name := range reportedGauges {
		gauges[name] = metrics.Gauge(name)
	}
	return ok(c, map[string]interface{}{"counters": counters, "gauges": gauges})
}

// metricHistory returns the stored points of one metric for the last
// ?hours=N hours, 1 by default.
func (s *Server) metricHistory(c echo.Context) error {
	name := c.Param("name")
	if !known(name) {
		return fail(c, http.StatusNotFound, "METRIC_NOT_FOUND", "Unknown metric", name)
	}
	hours := cast.ToInt(c.QueryParam("hours"))
	if hours <= 0 {
		hours = 1
	}
	end := time.Now().Add(time.Minute)
	points, err := metrics.Query(name, end.Add(-time.Duration(hours)*time.Hour), end)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query metric", err.Error())
	}
	out := make([]metricPoint, 0, len(points))
	for _, p := range points {
		out = append(out, metricPoint{Timestamp: p.Timestamp, Value: p.Value})
	}
	return ok(c, out)
}

func known(name string) bool {
	for _, list := range [][]string{reportedCounters, reportedGauges} {
		for _, n := range list {
			if n == name {
				return true
			}
		}
	}
	return false
}
