// Package telemetry instruments the HTTP surface with OpenTelemetry-semantic
// spans and metrics using standard library constructs, and serves the metric
// state in Prometheus text exposition format. It deliberately does not import
// the go.opentelemetry.io SDK; the span records and instrument names follow
// the OTel HTTP conventions so a collector-backed implementation can be
// dropped in later without renaming anything.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
)

// TelemetryConfig carries the service identity and the signal toggles. The
// toggles are pointers so an unset field reads as "on"; use BoolPtr to turn a
// signal off explicitly.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool
	TracingEnabled *bool
}

func (c *TelemetryConfig) metricsOn() bool { return flagOn(c.MetricsEnabled) }

func (c *TelemetryConfig) tracingOn() bool { return flagOn(c.TracingEnabled) }

func flagOn(f *bool) bool {
	return f == nil || *f
}

func (c *TelemetryConfig) applyDefaults() {
	c.ServiceName = fallback(c.ServiceName, "mentis-server")
	c.ServiceVersion = fallback(c.ServiceVersion, "0.0.0")
	c.Environment = fallback(c.Environment, "development")
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// BoolPtr returns a pointer to b for the TelemetryConfig toggle fields.
func BoolPtr(b bool) *bool {
	return &b
}

// SpanStatus records how a span ended, mirroring the OTel status code set.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is one finished request trace record. Attribute keys follow the OTel
// HTTP semantic conventions.
type Span struct {
	TraceID    string
	SpanID     string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	StatusCode SpanStatus
	Attributes map[string]string
}

// spanBuffer caps the in-memory span store. Once full, the oldest record is
// overwritten, so a long-running server holds a bounded window of recent
// requests.
const spanBuffer = 512

type spanRing struct {
	mu   sync.Mutex
	buf  []*Span
	next int
}

func (r *spanRing) add(s *Span) {
	r.mu.Lock()
	if len(r.buf) < spanBuffer {
		r.buf = append(r.buf, s)
	} else {
		r.buf[r.next] = s
		r.next = (r.next + 1) % spanBuffer
	}
	r.mu.Unlock()
}

// all returns the retained spans, oldest first.
func (r *spanRing) all() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Span, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// TelemetryProvider holds all observability state for the server: the span
// window, the HTTP instruments, the per-operation counters and the health
// gauges.
type TelemetryProvider struct {
	cfg TelemetryConfig

	spans spanRing

	duration *histogram // request duration, all routes
	reqSize  *histogram
	respSize *histogram

	routeMu sync.RWMutex
	byRoute map[RouteLabels]*histogram

	active int64 // in-flight requests

	opsMu sync.RWMutex
	ops   map[opKey]*int64

	gaugeMu sync.RWMutex
	gauges  map[string]*int64

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewTelemetryProvider builds a provider with fresh instruments. The
// aggregate HTTP histograms exist from the start; per-route series, operation
// counters and gauges are allocated on first use.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()

	return &TelemetryProvider{
		cfg:      cfg,
		duration: newHistogram(durationBuckets),
		reqSize:  newHistogram(sizeBuckets),
		respSize: newHistogram(sizeBuckets),
		byRoute:  make(map[RouteLabels]*histogram),
		ops:      make(map[opKey]*int64),
		gauges:   make(map[string]*int64),
		done:     make(chan struct{}),
	}
}

// Shutdown releases the provider. Safe to call more than once.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error {
	tp.shutdownOnce.Do(func() { close(tp.done) })
	return nil
}

// GetRecordedSpans returns the retained spans, oldest first.
func (tp *TelemetryProvider) GetRecordedSpans() []*Span {
	return tp.spans.all()
}

// RouteLabels identifies one (method, route pattern, status code) series.
type RouteLabels struct {
	Method string
	Route  string
	Status string
}

type opKey struct {
	resource  string
	operation string
}

// OperationCounter increments the api.operation.count metric. The resource is
// the API resource being operated on ("Questionnaire", "scales",
// "assessments"); the operation is the action (read, create, update, delete).
func (tp *TelemetryProvider) OperationCounter(resourceType, operation string) {
	k := opKey{resourceType, operation}
	tp.opsMu.RLock()
	p := tp.ops[k]
	tp.opsMu.RUnlock()
	if p == nil {
		tp.opsMu.Lock()
		p = tp.ops[k]
		if p == nil {
			p = new(int64)
			tp.ops[k] = p
		}
		tp.opsMu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

// OperationCount returns the current value of one operation counter.
func (tp *TelemetryProvider) OperationCount(resourceType, operation string) int64 {
	tp.opsMu.RLock()
	p := tp.ops[opKey{resourceType, operation}]
	tp.opsMu.RUnlock()
	if p == nil {
		return 0
	}
	return atomic.LoadInt64(p)
}

// RequestDurations returns the duration histogram covering every route.
func (tp *TelemetryProvider) RequestDurations() *histogram { return tp.duration }

// RequestSizes returns the request body size histogram.
func (tp *TelemetryProvider) RequestSizes() *histogram { return tp.reqSize }

// ResponseSizes returns the response body size histogram.
func (tp *TelemetryProvider) ResponseSizes() *histogram { return tp.respSize }

// RouteDurations returns the duration histogram for one labeled series, or
// nil if nothing has been recorded for it.
func (tp *TelemetryProvider) RouteDurations(l RouteLabels) *histogram {
	tp.routeMu.RLock()
	defer tp.routeMu.RUnlock()
	return tp.byRoute[l]
}

// ActiveRequests returns the number of requests currently being handled.
func (tp *TelemetryProvider) ActiveRequests() int64 {
	return atomic.LoadInt64(&tp.active)
}

func (tp *TelemetryProvider) routeHistogram(l RouteLabels) *histogram {
	tp.routeMu.RLock()
	h := tp.byRoute[l]
	tp.routeMu.RUnlock()
	if h == nil {
		tp.routeMu.Lock()
		h = tp.byRoute[l]
		if h == nil {
			h = newHistogram(durationBuckets)
			tp.byRoute[l] = h
		}
		tp.routeMu.Unlock()
	}
	return h
}

// GetGauge reads the named gauge. A gauge that was never set reads 0.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	tp.gaugeMu.RLock()
	p := tp.gauges[name]
	tp.gaugeMu.RUnlock()
	if p == nil {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (tp *TelemetryProvider) setGauge(name string, val int64) {
	tp.gaugeMu.RLock()
	p := tp.gauges[name]
	tp.gaugeMu.RUnlock()
	if p == nil {
		tp.gaugeMu.Lock()
		p = tp.gauges[name]
		if p == nil {
			p = new(int64)
			tp.gauges[name] = p
		}
		tp.gaugeMu.Unlock()
	}
	atomic.StoreInt64(p, val)
}

// Gauge names, dotted per OTel convention; the Prometheus exporter rewrites
// them with underscores.
const (
	gaugeDBPoolActive = "db.pool.active_connections"
	gaugeDBPoolIdle   = "db.pool.idle_connections"
	gaugeScalesTotal  = "catalog.scales.total"
)

// HealthMetricsRecorder is the narrow handle handed to the pool sampling
// loop, so it moves gauges without seeing the rest of the provider.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

// HealthMetrics returns the gauge recorder for the sampling loop.
func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

// SetDBPoolActive records how many pool connections are checked out.
func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.setGauge(gaugeDBPoolActive, n)
}

// SetDBPoolIdle records how many pool connections sit idle.
func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.setGauge(gaugeDBPoolIdle, n)
}

// SetScalesTotal records the number of scale definitions in the catalog.
func (h *HealthMetricsRecorder) SetScalesTotal(n int64) {
	h.tp.setGauge(gaugeScalesTotal, n)
}

// TracingMiddleware returns an Echo middleware that records a span per
// request. Spans carry the OTel HTTP attributes plus tenant.id and, on /fhir
// routes, the resource type. With tracing disabled the handler chain is
// returned untouched.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !tp.cfg.tracingOn() {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			tp.spans.add(finishSpan(c, start, time.Now()))
			return err
		}
	}
}

// finishSpan assembles the trace record for one completed request.
func finishSpan(c echo.Context, start, end time.Time) *Span {
	req := c.Request()
	route := routePattern(c)
	status := c.Response().Status

	attrs := make(map[string]string, 6)
	attrs["http.method"] = req.Method
	attrs["http.route"] = route
	attrs["http.status_code"] = strconv.Itoa(status)
	attrs["http.url"] = req.URL.String()
	if rt := extractFHIRResourceType(req.URL.Path); rt != "" {
		attrs["fhir.resource_type"] = rt
	}
	if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
		attrs["tenant.id"] = tid
	}

	code := SpanStatusOK
	if status >= 500 {
		code = SpanStatusError
	}

	return &Span{
		TraceID:    generateID(16),
		SpanID:     generateID(8),
		Name:       "HTTP " + req.Method + " " + route,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		StatusCode: code,
		Attributes: attrs,
	}
}

// MetricsMiddleware returns an Echo middleware that records the HTTP server
// instruments: request duration (aggregate and per route), in-flight count,
// and body sizes. With metrics disabled the handler chain is returned
// untouched.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !tp.cfg.metricsOn() {
			return next
		}
		return func(c echo.Context) error {
			atomic.AddInt64(&tp.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&tp.active, -1)
			tp.observeRequest(c, time.Since(start))
			return err
		}
	}
}

// observeRequest feeds one completed request into the HTTP instruments.
func (tp *TelemetryProvider) observeRequest(c echo.Context, elapsed time.Duration) {
	req, resp := c.Request(), c.Response()
	secs := elapsed.Seconds()

	tp.duration.Observe(secs)
	tp.routeHistogram(RouteLabels{
		Method: req.Method,
		Route:  routePattern(c),
		Status: strconv.Itoa(resp.Status),
	}).Observe(secs)

	if req.ContentLength > 0 {
		tp.reqSize.Observe(float64(req.ContentLength))
	}
	if resp.Size > 0 {
		tp.respSize.Observe(float64(resp.Size))
	}
}

// routePattern prefers the matched Echo route so span names and metric
// labels stay low-cardinality; unrouted requests fall back to the raw path.
func routePattern(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}

// extractFHIRResourceType parses a FHIR resource type from a URL path. It
// returns "" for non-FHIR paths, operation segments and anything that is not
// PascalCase.
func extractFHIRResourceType(path string) string {
	_, rest, found := strings.Cut(path, "/fhir/")
	if !found {
		return ""
	}
	rest, _, _ = strings.Cut(rest, "/")
	if rest == "" || !unicode.IsUpper(rune(rest[0])) {
		return ""
	}
	return rest
}

// generateID returns n random bytes hex encoded, so 2n characters.
func generateID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
