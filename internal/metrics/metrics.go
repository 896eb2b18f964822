package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the tester counters
type Metrics struct {
	FramesProcessed   *prometheus.CounterVec // labels: mtype, result
	PayloadsDecrypted *prometheus.CounterVec // labels: key
	KeyDerivations    prometheus.Counter
	FramesForged      *prometheus.CounterVec // labels: kind
	FramesSent        *prometheus.CounterVec // labels: sink, result
	AnalyzerState     prometheus.Gauge
}

// New registers and returns the tester metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorawan_tester",
			Name:      "frames_processed_total",
			Help:      "Captured frames processed by message type and result.",
		}, []string{"mtype", "result"}),
		PayloadsDecrypted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorawan_tester",
			Name:      "payloads_decrypted_total",
			Help:      "FRMPayloads decrypted by key.",
		}, []string{"key"}),
		KeyDerivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lorawan_tester",
			Name:      "key_derivations_total",
			Help:      "Session key sets derived from observed handshakes.",
		}),
		FramesForged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorawan_tester",
			Name:      "frames_forged_total",
			Help:      "Frames built by the forger by kind.",
		}, []string{"kind"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorawan_tester",
			Name:      "frames_sent_total",
			Help:      "Frames handed to a transmission sink.",
		}, []string{"sink", "result"}),
		AnalyzerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lorawan_tester",
			Name:      "analyzer_state",
			Help:      "Current analyzer state (0 Empty .. 4 DataExchange).",
		}),
	}
	reg.MustRegister(m.FramesProcessed, m.PayloadsDecrypted, m.KeyDerivations, m.FramesForged, m.FramesSent, m.AnalyzerState)
	return m
}
