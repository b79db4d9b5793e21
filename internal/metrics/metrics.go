package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Uploads          *prometheus.CounterVec
	UploadBytes      prometheus.Histogram
	OptimizerPasses  *prometheus.CounterVec
	FeedDeliveries   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	StreamsConnected prometheus.Gauge
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_image_uploads_total",
			Help: "Image uploads to the storage host by outcome",
		}, []string{"outcome"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_image_upload_bytes",
			Help:    "Size of optimized images sent to the storage host",
			Buckets: prometheus.ExponentialBuckets(32<<10, 2, 8),
		}),
		OptimizerPasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_optimizer_passes_total",
			Help: "Optimized images by number of compression passes",
		}, []string{"passes"}),
		FeedDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_feed_deliveries_total",
			Help: "Snapshots delivered to subscribers by outcome",
		}, []string{"outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lostfound_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		StreamsConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "lostfound_streams_connected",
			Help: "Open live-update streams",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpload records one upload attempt.
func (m *Metrics) ObserveUpload(outcome string, size int) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.UploadBytes.Observe(float64(size))
	}
}

// ObservePasses records how many passes an optimization took.
func (m *Metrics) ObservePasses(passes int) {
	if m == nil {
		return
	}
	m.OptimizerPasses.WithLabelValues(strconv.Itoa(passes)).Inc()
}

// ObserveDelivery records one subscription delivery.
func (m *Metrics) ObserveDelivery(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "unavailable"
	}
	m.FeedDeliveries.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track live-update connections.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.StreamsConnected.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.StreamsConnected.Dec()
	}
}
