package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncGateDecision is a no-op.
func (n *NoopRecorder) IncGateDecision(endpoint, outcome string) {}

// IncAuthCacheHit is a no-op.
func (n *NoopRecorder) IncAuthCacheHit() {}

// IncAuthCacheMiss is a no-op.
func (n *NoopRecorder) IncAuthCacheMiss() {}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration(outcome string) {}

// IncAPIKeyIssued is a no-op.
func (n *NoopRecorder) IncAPIKeyIssued() {}

// IncTranscription is a no-op.
func (n *NoopRecorder) IncTranscription(result string) {}

// ObserveTranscriptionDuration is a no-op.
func (n *NoopRecorder) ObserveTranscriptionDuration(duration time.Duration) {}
