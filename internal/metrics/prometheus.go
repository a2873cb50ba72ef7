package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports Recorder events as Prometheus collectors.
type PrometheusRecorder struct {
	gateDecisions         *prometheus.CounterVec
	authCache             *prometheus.CounterVec
	registrations         *prometheus.CounterVec
	apiKeysIssued         prometheus.Counter
	transcriptions        *prometheus.CounterVec
	transcriptionDuration prometheus.Histogram
	gatherer              prometheus.Gatherer
}

// NewPrometheus creates a PrometheusRecorder registered on its own registry,
// together with the standard Go and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewPrometheusWithRegistry(reg, reg)
}

// NewPrometheusWithRegistry registers the collectors on reg and serves them
// from gatherer.
func NewPrometheusWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_gate_decisions_total",
			Help: "Request gate decisions by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		authCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_auth_cache_lookups_total",
			Help: "Auth cache lookups by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_registrations_total",
			Help: "Account registrations by outcome.",
		}, []string{"outcome"}),
		apiKeysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxgate_api_keys_issued_total",
			Help: "API keys issued.",
		}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_transcriptions_total",
			Help: "Transcriptions by result.",
		}, []string{"result"}),
		transcriptionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxgate_transcription_duration_seconds",
			Help:    "End-to-end transcription latency including audio normalization.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		p.gateDecisions,
		p.authCache,
		p.registrations,
		p.apiKeysIssued,
		p.transcriptions,
		p.transcriptionDuration,
	)
	return p
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// IncGateDecision increments the gate decision counter.
func (p *PrometheusRecorder) IncGateDecision(endpoint, outcome string) {
	p.gateDecisions.WithLabelValues(endpoint, outcome).Inc()
}

// IncAuthCacheHit increments the auth cache hit counter.
func (p *PrometheusRecorder) IncAuthCacheHit() {
	p.authCache.WithLabelValues("hit").Inc()
}

// IncAuthCacheMiss increments the auth cache miss counter.
func (p *PrometheusRecorder) IncAuthCacheMiss() {
	p.authCache.WithLabelValues("miss").Inc()
}

// IncRegistration increments the registration counter.
func (p *PrometheusRecorder) IncRegistration(outcome string) {
	p.registrations.WithLabelValues(outcome).Inc()
}

// IncAPIKeyIssued increments the API key counter.
func (p *PrometheusRecorder) IncAPIKeyIssued() {
	p.apiKeysIssued.Inc()
}

// IncTranscription increments the transcription counter.
func (p *PrometheusRecorder) IncTranscription(result string) {
	p.transcriptions.WithLabelValues(result).Inc()
}

// ObserveTranscriptionDuration records transcription latency.
func (p *PrometheusRecorder) ObserveTranscriptionDuration(duration time.Duration) {
	p.transcriptionDuration.Observe(duration.Seconds())
}
