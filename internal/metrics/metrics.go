// Package metrics holds the Prometheus collectors for plugin dispatch and the
// host HTTP bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hook outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

var (
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copilot_plugin_dispatches_total", Help: "dispatch chains run, by phase"},
		[]string{"phase"},
	)

	HookCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copilot_plugin_hook_calls_total", Help: "plugin hook invocations by plugin, phase and outcome"},
		[]string{"plugin_id", "phase", "outcome"},
	)

	HookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_plugin_hook_seconds",
			Help:    "plugin hook latency.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"plugin_id", "phase"},
	)

	Cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copilot_plugin_cancellations_total", Help: "requests cancelled, by cancelling plugin"},
		[]string{"plugin_id"},
	)

	RegisteredPlugins = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "copilot_plugins_registered", Help: "plugins currently registered"},
	)

	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copilot_plugins_http_response_seconds",
			Help:    "http response time.",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 10, 30},
		},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copilot_plugins_http_requests_total", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)
)

// ObserveHook records one hook invocation.
func ObserveHook(pluginID, phase, outcome string, d time.Duration) {
	HookCalls.WithLabelValues(pluginID, phase, outcome).Inc()
	HookLatency.WithLabelValues(pluginID, phase).Observe(d.Seconds())
}

// Collect is chi-compatible middleware counting HTTP requests.
func Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			if r.URL.Path == "/metrics" {
				return
			}
			totalHttpRequests.WithLabelValues(strconv.Itoa(ww.Status()), r.Method).Inc()
			responseTime.Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }

func init() {
	prometheus.MustRegister(
		Dispatches,
		HookCalls,
		HookLatency,
		Cancellations,
		RegisteredPlugins,
		responseTime,
		totalHttpRequests,
	)
}
