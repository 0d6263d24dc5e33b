// Package metrics owns the Prometheus registry served on the ops listener.
// ServerMetrics satisfies the recorder interfaces of pages, tmpl, content
// and httpmw so those packages never import client_golang.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/pagesite/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight   prometheus.Gauge
	reqTotal   *prometheus.CounterVec
	reqDur     *prometheus.HistogramVec
	respBytes  *prometheus.HistogramVec
	errorTotal *prometheus.CounterVec
	panicTotal prometheus.Counter

	rateLimited         prometheus.Counter
	rateLimitAtCapacity prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// pages
	pagesRendered   *prometheus.CounterVec
	renderCache     *prometheus.CounterVec
	metadataSkipped prometheus.Counter
	templateReloads *prometheus.CounterVec

	// content
	contentInfo     *prometheus.GaugeVec
	contentLoadedTs prometheus.Gauge
	watcherPolls    prometheus.Counter
	watcherSwaps    prometheus.Counter
	watcherErrors   *prometheus.CounterVec
	bundleLoadDur   prometheus.Histogram
	watcherLastOK   prometheus.Gauge
	watcherStale    prometheus.Gauge
}

// New builds a private registry with the Go and process collectors. HTTP
// labels are limited to method, route pattern and status.
func New() *ServerMetrics {
	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests currently being served",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response body size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"method", "route"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Panics recovered while serving requests",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
		rateLimitAtCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Times the rate limiter's client table was full",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, value is always 1",
		}, []string{"app", "version", "commit", "build_date", "go_version", "vcs_dirty"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 while continuous profiling is running",
		}),

		pagesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesite_pages_rendered_total",
			Help: "Render calls by target kind and outcome",
		}, []string{"kind", "outcome"}),
		renderCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesite_render_cache_lookups_total",
			Help: "Markdown render cache lookups by result",
		}, []string{"result"}),
		metadataSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesite_metadata_skipped_total",
			Help: "Sidecar files left out of listings",
		}),
		templateReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesite_template_reloads_total",
			Help: "Template reloads by result",
		}, []string{"result"}),

		contentInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_info",
			Help: "Active content snapshot, value is always 1",
		}, []string{"source", "version"}),
		contentLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_loaded_timestamp_seconds",
			Help: "When the active content snapshot was loaded",
		}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_polls_total",
			Help: "Bundle hash polls",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_swaps_total",
			Help: "Content bundles swapped in",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_watcher_errors_total",
			Help: "Watcher failures by stage",
		}, []string{"type"}),
		bundleLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_bundle_load_duration_seconds",
			Help:    "Time to download, verify and extract a bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_last_success_timestamp_seconds",
			Help: "Last successful bundle hash poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_stale",
			Help: "1 while the bundle hash has not been readable for too long",
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errorTotal, m.panicTotal,
		m.rateLimited, m.rateLimitAtCapacity,
		m.buildInfo, m.profilingActive,
		m.pagesRendered, m.renderCache, m.metadataSkipped, m.templateReloads,
		m.contentInfo, m.contentLoadedTs,
		m.watcherPolls, m.watcherSwaps, m.watcherErrors, m.bundleLoadDur, m.watcherLastOK, m.watcherStale,
	)
	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// SetBuildInfo is called once at startup.
func (m *ServerMetrics) SetBuildInfo(app string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(app, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion, dirty).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) { boolGauge(m.profilingActive, active) }

func (m *ServerMetrics) IncHTTPPanic()         { m.panicTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.rateLimited.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.rateLimitAtCapacity.Inc() }

// pages.Recorder

func (m *ServerMetrics) PageRendered(kind, outcome string) {
	m.pagesRendered.WithLabelValues(kind, outcome).Inc()
}

func (m *ServerMetrics) RenderCacheLookup(hit bool) {
	if hit {
		m.renderCache.WithLabelValues("hit").Inc()
		return
	}
	m.renderCache.WithLabelValues("miss").Inc()
}

func (m *ServerMetrics) MetadataSkipped(n int) {
	if n > 0 {
		m.metadataSkipped.Add(float64(n))
	}
}

// tmpl.Recorder

func (m *ServerMetrics) TemplateReload(result string) {
	m.templateReloads.WithLabelValues(result).Inc()
}

// SetContent replaces the content_info series, there is only ever one.
func (m *ServerMetrics) SetContent(source, version string, loadedAt time.Time) {
	m.contentInfo.Reset()
	m.contentInfo.WithLabelValues(source, version).Set(1)
	m.contentLoadedTs.Set(float64(loadedAt.Unix()))
}

// content.WatcherMetrics

func (m *ServerMetrics) IncWatcherPolls()                    { m.watcherPolls.Inc() }
func (m *ServerMetrics) IncWatcherSwaps()                    { m.watcherSwaps.Inc() }
func (m *ServerMetrics) IncWatcherError(kind string)         { m.watcherErrors.WithLabelValues(kind).Inc() }
func (m *ServerMetrics) ObserveBundleLoadDuration(s float64) { m.bundleLoadDur.Observe(s) }
func (m *ServerMetrics) SetWatcherLastSuccess(unix float64)  { m.watcherLastOK.Set(unix) }
func (m *ServerMetrics) SetWatcherStale(stale bool)          { boolGauge(m.watcherStale, stale) }
