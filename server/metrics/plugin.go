// Package metrics records Prometheus metrics for every request the server
// handles.
//
// Usage:
//
//	m := metrics.New()
//	srv, _ := server.New(root, server.WithPlugins(m))
//	mux.Handle("/metrics", m.Handler())
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cyp0633/libdav/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PriorityStart runs before every other beforeMethod handler.
const PriorityStart = 0

type startKey struct{}

// Plugin is the metrics plugin.
type Plugin struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	responseBytes    *prometheus.HistogramVec
}

var _ server.Plugin = (*Plugin)(nil)

// Option configures the plugin.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	buckets  []float64
}

// WithRegistry registers the collectors with reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithBuckets sets the duration histogram buckets, in seconds.
func WithBuckets(buckets []float64) Option {
	return func(o *options) {
		o.buckets = buckets
	}
}

// New creates the plugin and registers its collectors.
func New(opts ...Option) *Plugin {
	o := options{
		buckets: []float64{
			0.001, // 1ms
			0.01,  // 10ms
			0.1,   // 100ms
			1,     // 1s
			10,    // 10s
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	reg := o.registry

	return &Plugin{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "libdav_requests_total",
				Help: "Total number of WebDAV requests by method and status",
			},
			[]string{"method", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "libdav_request_duration_seconds",
				Help:    "Duration of WebDAV requests in seconds",
				Buckets: o.buckets,
			},
			[]string{"method"},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "libdav_requests_in_flight",
				Help: "Current number of WebDAV requests being processed",
			},
		),
		responseBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "libdav_response_size_bytes",
				Help: "Distribution of response body sizes",
				Buckets: []float64{
					1024,    // 1KB
					65536,   // 64KB
					1048576, // 1MB
				},
			},
			[]string{"method"},
		),
	}
}

func (p *Plugin) Name() string { return "metrics" }

func (p *Plugin) Initialize(s *server.Server) error {
	s.OnBeforeMethod(PriorityStart, p.start)
	s.OnAfterMethod(server.DefaultPriority, p.record)
	return nil
}

// Registry returns the registry the collectors live in.
func (p *Plugin) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Plugin) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (p *Plugin) start(rc *server.RequestContext) (server.Result, error) {
	rc.SetValue(startKey{}, time.Now())
	p.requestsInFlight.Inc()
	return server.Continue, nil
}

func (p *Plugin) record(rc *server.RequestContext, _ error) {
	started, ok := rc.Value(startKey{}).(time.Time)
	if !ok {
		return
	}
	p.requestsInFlight.Dec()

	status := rc.Response.Status()
	if status == 0 {
		status = http.StatusOK
	}
	method := rc.Method()
	p.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	p.responseBytes.WithLabelValues(method).Observe(float64(rc.Response.BytesWritten()))
}
