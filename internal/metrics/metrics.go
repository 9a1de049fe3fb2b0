// Package metrics owns the Prometheus registry served on the ops port.
//
// Labels are limited to small closed sets: HTTP method, chi route pattern,
// status code and plugin failure kinds. Plugin names and identities are
// never labels.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/version"
)

// ServerMetrics implements the Metrics interfaces of registry and resolver
// and provides the HTTP middleware.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight    prometheus.Gauge
	requests    *prometheus.CounterVec
	serverErrs  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	respSize    *prometheus.HistogramVec
	panics      prometheus.Counter
	rlDenied    prometheus.Counter
	rlCapacity  prometheus.Counter
	buildInfo   *prometheus.GaugeVec
	profiling   prometheus.Gauge
	installs    *prometheus.CounterVec
	removals    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	resolves    *prometheus.CounterVec
	pluginCount prometheus.Gauge
}

// New returns metrics on a fresh registry with the Go and process
// collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg: reg,
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		serverErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP 5xx responses by method and route.",
		}, []string{"method", "route"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		// plugin files run from a few hundred bytes up to the 1 MiB image cap
		respSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size by method and route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Recovered handler panics.",
		}),
		rlDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Uploads and removals refused by the rate limiter.",
		}),
		rlCapacity: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Times the rate limiter visitor table filled up.",
		}),
		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata; the value is always 1.",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profiling: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 when continuous profiling started, 0 otherwise.",
		}),
		installs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plugin_installs_total",
			Help: "Plugin installs by result: ok or the failure kind.",
		}, []string{"result"}),
		removals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plugin_removals_total",
			Help: "Plugin removals by result: ok or the failure kind.",
		}, []string{"result"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plugin_validation_failures_total",
			Help: "Rejected plugin packages by failure kind.",
		}, []string{"kind"}),
		resolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plugin_resolves_total",
			Help: "Plugin file reads by outcome: ok or the failure kind.",
		}, []string{"outcome"}),
		pluginCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "plugins_installed",
			Help: "Plugins recorded in the registry document.",
		}),
	}
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	})
	return m
}

// Handler serves the registry in Prometheus or OpenMetrics format.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfoFromVersion publishes vi as build_info. Call once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(app, component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.panics.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.rlDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.rlCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.profiling.Set(v)
}

func (m *ServerMetrics) IncPluginInstall(result string) { m.installs.WithLabelValues(result).Inc() }

func (m *ServerMetrics) IncPluginRemoval(result string) { m.removals.WithLabelValues(result).Inc() }

func (m *ServerMetrics) IncPluginValidationFailure(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncPluginResolve(outcome string) { m.resolves.WithLabelValues(outcome).Inc() }

func (m *ServerMetrics) SetPluginsInstalled(n int) { m.pluginCount.Set(float64(n)) }
