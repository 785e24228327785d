package telemetry

import "github.com/prometheus/client_golang/prometheus"

const streamgateNamespace string = "streamgate"

var (
	promSessionTotal      prometheus.Gauge
	promTranscodeJobTotal prometheus.Gauge

	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: streamgateNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	promTranscodeJobTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: streamgateNamespace,
		Subsystem: "transcode",
		Name:      "jobs_running",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: streamgateNamespace,
			Subsystem: "node",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(promTranscodeJobTotal)
	prometheus.MustRegister(ServiceOperationCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func TranscodeJobStarted() {
	promTranscodeJobTotal.Inc()
}

func TranscodeJobStopped() {
	promTranscodeJobTotal.Dec()
}
