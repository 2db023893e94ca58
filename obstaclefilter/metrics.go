package obstaclefilter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the filter's Prometheus instruments.
type Metrics struct {
	Cycles            prometheus.Counter
	ScenesDecoded     prometheus.Counter
	DecodeFailures    prometheus.Counter
	PublishFailures   prometheus.Counter
	ObstaclePoints    prometheus.Gauge
	FilteredSamples   prometheus.Gauge
	CollidingSamples  prometheus.Gauge
	ProcessingSeconds prometheus.Histogram
}

// NewMetrics creates the instruments and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "reachability_filter_cycles_total",
			Help: "Number of loop cycles run",
		}),
		ScenesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "reachability_filter_scenes_decoded_total",
			Help: "Number of occupancy volumes decoded into obstacle sets",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reachability_filter_decode_failures_total",
			Help: "Number of occupancy volumes that could not be decoded",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reachability_filter_publish_failures_total",
			Help: "Number of filtered or colliding maps that could not be published",
		}),
		ObstaclePoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reachability_filter_obstacle_points",
			Help: "Number of points in the current obstacle set",
		}),
		FilteredSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reachability_filter_filtered_samples",
			Help: "Number of samples clear of obstacles in the last classification",
		}),
		CollidingSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reachability_filter_colliding_samples",
			Help: "Number of samples colliding with obstacles in the last classification",
		}),
		ProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reachability_filter_processing_seconds",
			Help:    "Time spent indexing and classifying per cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}
