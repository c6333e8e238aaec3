package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "genstream"

var (
	// framesGenerated counts frames produced by generation sessions.
	framesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_generated_total",
			Help:      "Total number of frames produced by generation sessions",
		},
	)

	// framesSent counts frames handed to the sink, by outcome.
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames handed to the frame sink",
		},
		[]string{"status"}, // status: success, error
	)

	// pacerIdleSteps counts pacing steps that delivered nothing.
	pacerIdleSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pacer_idle_steps_total",
			Help:      "Total number of pacing steps that delivered no frame",
		},
		[]string{"reason"}, // reason: exhausted, not_loaded, source_error
	)

	streamingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streaming_active",
			Help:      "1 while the pacing loop is running",
		},
	)
)

// RegisterMetrics registers the stream metrics with the given registerer.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		framesGenerated,
		framesSent,
		pacerIdleSteps,
		streamingActive,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
