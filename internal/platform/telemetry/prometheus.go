package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// PrometheusHandler returns an Echo handler that serves the metric state in
// Prometheus text exposition format. Series within a family are written in
// sorted label order so consecutive scrapes stay diffable.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		tp.writeRouteDurations(&b)

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", tp.ActiveRequests())

		writeHistogramFamily(&b, "http_server_request_size_bytes",
			"Size of HTTP request bodies in bytes.", "", tp.reqSize)
		writeHistogramFamily(&b, "http_server_response_size_bytes",
			"Size of HTTP response bodies in bytes.", "", tp.respSize)

		tp.writeOperationCounts(&b)
		tp.writeHealthGauges(&b)

		return c.String(http.StatusOK, b.String())
	}
}

func (tp *TelemetryProvider) writeRouteDurations(b *strings.Builder) {
	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")

	tp.routeMu.RLock()
	series := make([]RouteLabels, 0, len(tp.byRoute))
	for l := range tp.byRoute {
		series = append(series, l)
	}
	tp.routeMu.RUnlock()

	sort.Slice(series, func(i, j int) bool {
		a, c := series[i], series[j]
		if a.Route != c.Route {
			return a.Route < c.Route
		}
		if a.Method != c.Method {
			return a.Method < c.Method
		}
		return a.Status < c.Status
	})

	for _, l := range series {
		h := tp.RouteDurations(l)
		if h == nil {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", l.Method, l.Route, l.Status)
		writeHistogramSeries(b, "http_server_request_duration_seconds", labels, h)
	}
	b.WriteByte('\n')
}

func (tp *TelemetryProvider) writeOperationCounts(b *strings.Builder) {
	tp.opsMu.RLock()
	keys := make([]opKey, 0, len(tp.ops))
	for k := range tp.ops {
		keys = append(keys, k)
	}
	tp.opsMu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].resource != keys[j].resource {
			return keys[i].resource < keys[j].resource
		}
		return keys[i].operation < keys[j].operation
	})

	b.WriteString("# HELP api_operation_count Total API operations by resource type and operation.\n")
	b.WriteString("# TYPE api_operation_count counter\n")
	for _, k := range keys {
		fmt.Fprintf(b, "api_operation_count{resource_type=%q,operation=%q} %d\n",
			k.resource, k.operation, tp.OperationCount(k.resource, k.operation))
	}
	b.WriteByte('\n')
}

func (tp *TelemetryProvider) writeHealthGauges(b *strings.Builder) {
	gauges := []struct {
		promName string
		otelName string
		help     string
	}{
		{"db_pool_active_connections", gaugeDBPoolActive, "Number of active database pool connections."},
		{"db_pool_idle_connections", gaugeDBPoolIdle, "Number of idle database pool connections."},
		{"catalog_scales_total", gaugeScalesTotal, "Number of scales in the catalog."},
	}
	for _, g := range gauges {
		fmt.Fprintf(b, "# HELP %s %s\n", g.promName, g.help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", g.promName)
		fmt.Fprintf(b, "%s %d\n\n", g.promName, tp.GetGauge(g.otelName))
	}
}

func writeHistogramFamily(b *strings.Builder, name, help, labels string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	if h != nil {
		writeHistogramSeries(b, name, labels, h)
	}
	b.WriteByte('\n')
}

// writeHistogramSeries emits the _bucket, _sum and _count lines for one
// series. The +Inf bucket always equals the observation count.
func writeHistogramSeries(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	total := h.Count()

	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{%s} %d\n", name, bucketLabels(labels, fmt.Sprintf("%g", bound)), cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s} %d\n", name, bucketLabels(labels, "+Inf"), total)

	suffix := ""
	if labels != "" {
		suffix = "{" + labels + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}

func bucketLabels(labels, le string) string {
	if labels == "" {
		return `le="` + le + `"`
	}
	return labels + `,le="` + le + `"`
}
