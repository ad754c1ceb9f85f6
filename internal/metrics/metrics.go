// Package metrics exposes the service's Prometheus registry: inbound HTTP
// traffic plus run, stage, failure and retry counts for the pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draftdesk"

var requestLabels = []string{"method", "path", "status"}

// HTTPCollector owns the /metrics registry and records inbound requests.
type HTTPCollector struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPCollector creates the registry with the HTTP collectors on it.
func NewHTTPCollector() (*HTTPCollector, error) {
	c := &HTTPCollector{
		registry: prometheus.NewRegistry(),
		requests: counterVec("http", "requests_total", "Total number of inbound HTTP requests.", requestLabels...),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, requestLabels),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Inbound HTTP requests currently being served.",
		}),
	}
	if err := register(c.registry, c.requests, c.latency, c.inFlight); err != nil {
		return nil, err
	}
	return c, nil
}

// Registerer lets the pipeline metrics share the /metrics registry.
func (c *HTTPCollector) Registerer() prometheus.Registerer {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *HTTPCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next, labelling requests by the matched route.
func (c *HTTPCollector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.inFlight.Inc()
		defer c.inFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		labels := []string{r.Method, routeLabel(r), strconv.Itoa(sw.status)}
		c.requests.WithLabelValues(labels...).Inc()
		c.latency.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the matched ServeMux pattern over the raw path, which
// keeps path parameters out of the label set.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// Pipeline records what each run did.
type Pipeline struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
}

// NewPipeline registers the pipeline collectors on reg.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		runs: counterVec("", "runs_total", "Finished runs by trigger and terminal state.", "trigger", "state"),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each run state.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		failures:   counterVec("", "failures_total", "Recorded failures by stage and error kind.", "stage", "kind"),
		retries:    counterVec("", "retry_attempts_total", "Failed attempts seen by the retrier, by operation.", "op"),
		rejections: counterVec("", "trigger_rejections_total", "Triggers rejected because a run was in progress.", "trigger"),
	}
	if err := register(reg, p.runs, p.stageDuration, p.failures, p.retries, p.rejections); err != nil {
		return nil, err
	}
	return p, nil
}

// RunFinished counts a run reaching a terminal state.
func (p *Pipeline) RunFinished(trigger, state string) {
	p.runs.WithLabelValues(trigger, state).Inc()
}

// StageCompleted observes the time spent in one state.
func (p *Pipeline) StageCompleted(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Pipeline) Failure(stage, kind string) {
	p.failures.WithLabelValues(stage, kind).Inc()
}

// RetryAttempt counts a failed attempt reported by the retrier.
func (p *Pipeline) RetryAttempt(op string) {
	p.retries.WithLabelValues(opLabel(op)).Inc()
}

func (p *Pipeline) TriggerRejected(trigger string) {
	p.rejections.WithLabelValues(trigger).Inc()
}

// opLabel drops per-source and per-file suffixes ("fetch Balarm" -> "fetch").
func opLabel(op string) string {
	for _, prefix := range []string{"fetch", "deliver"} {
		if op == prefix || strings.HasPrefix(op, prefix+" ") {
			return prefix
		}
	}
	return op
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
