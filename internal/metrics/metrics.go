package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with every service metric. A nil
// *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	Transitions        *prometheus.CounterVec // to
	TransitionsRefused *prometheus.CounterVec // reason: invalid|conflict|forbidden
	Samples            *prometheus.CounterVec // result: accepted|not_trackable|not_found|invalid
	ETAComputed        *prometheus.CounterVec // source: schedule|gps|recorded
	ETACacheHits       prometheus.Counter

	ReminderRuns        *prometheus.CounterVec // outcome: ok|skipped|error
	ReminderRunDuration prometheus.Histogram
	Notifications       *prometheus.CounterVec // status: sent|failed, class
	GatewayUnavailable  prometheus.Counter
	EventsPublished     *prometheus.CounterVec // result: ok|error

	HTTPRequests *prometheus.CounterVec // method, route, code
	HTTPDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_trip_transitions_total",
			Help: "Accepted trip status transitions.",
		}, []string{"to"}),
		TransitionsRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_trip_transitions_refused_total",
			Help: "Rejected trip status transitions.",
		}, []string{"reason"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_location_samples_total",
			Help: "Location samples received, by result.",
		}, []string{"result"}),
		ETAComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_eta_computed_total",
			Help: "ETA estimates computed, by source.",
		}, []string{"source"}),
		ETACacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_eta_cache_hits_total",
			Help: "ETA estimates served from cache.",
		}),
		ReminderRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_reminder_runs_total",
			Help: "Reminder scheduler runs, by outcome.",
		}, []string{"outcome"}),
		ReminderRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_reminder_run_duration_seconds",
			Help:    "Duration of one reminder scheduler run.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_notifications_total",
			Help: "Notification attempts finished, by status and failure class.",
		}, []string{"status", "class"}),
		GatewayUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_gateway_unavailable_total",
			Help: "Batches aborted because the notification gateway was unreachable.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_events_published_total",
			Help: "Trip events published to the broker.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shuttle_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Transitions, c.TransitionsRefused, c.Samples,
		c.ETAComputed, c.ETACacheHits,
		c.ReminderRuns, c.ReminderRunDuration, c.Notifications, c.GatewayUnavailable,
		c.EventsPublished, c.HTTPRequests, c.HTTPDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) TransitionAccepted(to string) {
	if c != nil {
		c.Transitions.WithLabelValues(to).Inc()
	}
}

func (c *Collector) TransitionRefused(reason string) {
	if c != nil {
		c.TransitionsRefused.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) SampleResult(result string) {
	if c != nil {
		c.Samples.WithLabelValues(result).Inc()
	}
}

func (c *Collector) ETA(source string, cached bool) {
	if c == nil {
		return
	}
	if cached {
		c.ETACacheHits.Inc()
		return
	}
	c.ETAComputed.WithLabelValues(source).Inc()
}

func (c *Collector) ReminderRun(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.ReminderRuns.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		c.ReminderRunDuration.Observe(took.Seconds())
	}
}

func (c *Collector) Notification(status, class string) {
	if c != nil {
		c.Notifications.WithLabelValues(status, class).Inc()
	}
}

func (c *Collector) GatewayDown() {
	if c != nil {
		c.GatewayUnavailable.Inc()
	}
}

func (c *Collector) EventPublished(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.EventsPublished.WithLabelValues("error").Inc()
		return
	}
	c.EventsPublished.WithLabelValues("ok").Inc()
}

// Middleware records request counts and latency labelled by chi route pattern
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
