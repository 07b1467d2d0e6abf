// Package metrics exposes connectd's Prometheus metrics and forwards
// command and poll outcomes to the optional InfluxDB telemetry sink.
package metrics

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

const namespace = "connectd"

// Sources supplies values sampled at scrape time. Nil fields are skipped.
type Sources struct {
	Devices func() device.Stats
	Logins  func() uint64
}

// Collector owns a private Prometheus registry so tests and multiple
// instances never collide on the global one.
//
// It implements dispatch.Recorder and poller.Observer.
type Collector struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

// New creates a Collector and registers every metric.
func New(src Sources) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by action and result.",
		}, []string{"action", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch to controller answer.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"action"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Controller polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of controller polls.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	c.registry.MustRegister(
		c.commands, c.commandDuration, c.polls, c.pollDuration, c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if src.Devices != nil {
		for _, state := range []string{"online", "offline"} {
			state := state
			c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "devices",
				Help:        "Known devices by connectivity state.",
				ConstLabels: prometheus.Labels{"state": state},
			}, func() float64 {
				st := src.Devices()
				if state == "online" {
					return float64(st.Online)
				}
				return float64(st.Offline)
			}))
		}
	}
	if src.Logins != nil {
		c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_logins_total",
			Help:      "Successful controller logins, including re-authentications.",
		}, func() float64 { return float64(src.Logins()) }))
	}

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordCommand counts a dispatch outcome.
func (c *Collector) RecordCommand(_ context.Context, rec dispatch.Record) {
	action := string(rec.Command.Action)
	c.commands.WithLabelValues(action, rec.Result()).Inc()
	c.commandDuration.WithLabelValues(action).Observe(secondsOrZero(rec.Duration))
}

// ObservePoll counts a poll outcome.
func (c *Collector) ObservePoll(_ context.Context, res poller.Result) {
	result := "success"
	if res.Err != nil {
		result = "error"
	}
	c.polls.WithLabelValues(result).Inc()
	c.pollDuration.Observe(secondsOrZero(res.Duration))
}

// Middleware counts HTTP requests by chi route pattern, which keeps label
// cardinality bounded regardless of device IDs in paths.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func secondsOrZero(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
