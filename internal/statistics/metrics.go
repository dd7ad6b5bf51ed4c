package statistics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the compression workflow.
type Metrics struct {
	compressions       *prometheus.CounterVec
	compressionSeconds prometheus.Histogram
	bytesSaved         prometheus.Counter
	uploads            *prometheus.CounterVec
	progress           prometheus.Gauge
}

// MustNewMetrics registers the workflow collectors with reg. Pass a fresh
// registry in tests; registration errors panic like the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		compressions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_compressor",
				Name:      "compressions_total",
				Help:      "Compressions attempted, by outcome.",
			},
			[]string{"status"},
		),
		compressionSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "image_compressor",
				Name:      "compression_duration_seconds",
				Help:      "Wall-clock time spent compressing one image.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
			},
		),
		bytesSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "image_compressor",
				Name:      "bytes_saved_total",
				Help:      "Bytes removed by compression across all images.",
			},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_compressor",
				Name:      "uploads_total",
				Help:      "Uploads to object storage, by outcome.",
			},
			[]string{"status"},
		),
		progress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "image_compressor",
				Name:      "compression_progress_percent",
				Help:      "Progress of the compression in flight, 0 when idle.",
			},
		),
	}
	reg.MustRegister(m.compressions, m.compressionSeconds, m.bytesSaved, m.uploads, m.progress)
	return m
}

func (m *Metrics) observeCompression(status string, d time.Duration, saved int64) {
	if m == nil {
		return
	}
	m.compressions.WithLabelValues(status).Inc()
	if status == statusSuccess {
		m.compressionSeconds.Observe(d.Seconds())
		if saved > 0 {
			m.bytesSaved.Add(float64(saved))
		}
	}
}

func (m *Metrics) observeUpload(status string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status).Inc()
}

func (m *Metrics) setProgress(p int) {
	if m == nil {
		return
	}
	m.progress.Set(float64(p))
}
