package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for one processor.
type Metrics struct {
	Frames   *prometheus.CounterVec
	Latency  prometheus.Histogram
	Coverage prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segcam",
			Name:      "frames_total",
			Help:      "Frames handled by the processor, by result",
		}, []string{"result"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "segcam",
			Name:      "frame_seconds",
			Help:      "Time from frame copy to mask publication",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
		Coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcam",
			Name:      "mask_coverage_ratio",
			Help:      "Fraction of opaque pixels in the latest mask",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Frames, m.Latency, m.Coverage)
	}
	return m
}

func (m *Metrics) observe(d time.Duration, coverage float64) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues("ok").Inc()
	m.Latency.Observe(d.Seconds())
	m.Coverage.Set(coverage)
}

func (m *Metrics) fail() {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues("failed").Inc()
}
