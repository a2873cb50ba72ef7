// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Gate outcomes.
const (
	OutcomeAdmitted      = "admitted"
	OutcomeMissingKey    = "missing_key"
	OutcomeInvalidKey    = "invalid_key"
	OutcomeUnknownUser   = "unknown_user"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

// Transcription results.
const (
	ResultSuccess      = "success"
	ResultUnrecognized = "unrecognized"
	ResultUnavailable  = "unavailable"
	ResultFailed       = "failed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Gate metrics
	IncGateDecision(endpoint, outcome string)
	IncAuthCacheHit()
	IncAuthCacheMiss()

	// Account metrics
	IncRegistration(outcome string)
	IncAPIKeyIssued()

	// Transcription metrics
	IncTranscription(result string)
	ObserveTranscriptionDuration(duration time.Duration)
}
