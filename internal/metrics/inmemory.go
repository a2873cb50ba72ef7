package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	GateDecisions              map[string]uint64 // keyed by "endpoint/outcome"
	AuthCacheHits              uint64
	AuthCacheMisses            uint64
	Registrations              map[string]uint64
	APIKeysIssued              uint64
	Transcriptions             map[string]uint64
	TranscriptionDurationCount uint64
	TranscriptionDurationTotal time.Duration
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		snap: Snapshot{
			GateDecisions:  make(map[string]uint64),
			Registrations:  make(map[string]uint64),
			Transcriptions: make(map[string]uint64),
		},
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.GateDecisions = copyCounts(m.snap.GateDecisions)
	out.Registrations = copyCounts(m.snap.Registrations)
	out.Transcriptions = copyCounts(m.snap.Transcriptions)
	return out
}

// GateDecisions returns the count for one endpoint and outcome.
func (m *InMemoryRecorder) GateDecisions(endpoint, outcome string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.GateDecisions[endpoint+"/"+outcome]
}

// IncGateDecision increments the gate decision counter.
func (m *InMemoryRecorder) IncGateDecision(endpoint, outcome string) {
	m.mu.Lock()
	m.snap.GateDecisions[endpoint+"/"+outcome]++
	m.mu.Unlock()
}

// IncAuthCacheHit increments the auth cache hit counter.
func (m *InMemoryRecorder) IncAuthCacheHit() {
	m.mu.Lock()
	m.snap.AuthCacheHits++
	m.mu.Unlock()
}

// IncAuthCacheMiss increments the auth cache miss counter.
func (m *InMemoryRecorder) IncAuthCacheMiss() {
	m.mu.Lock()
	m.snap.AuthCacheMisses++
	m.mu.Unlock()
}

// IncRegistration increments the registration counter.
func (m *InMemoryRecorder) IncRegistration(outcome string) {
	m.mu.Lock()
	m.snap.Registrations[outcome]++
	m.mu.Unlock()
}

// IncAPIKeyIssued increments the API key counter.
func (m *InMemoryRecorder) IncAPIKeyIssued() {
	m.mu.Lock()
	m.snap.APIKeysIssued++
	m.mu.Unlock()
}

// IncTranscription increments the transcription counter.
func (m *InMemoryRecorder) IncTranscription(result string) {
	m.mu.Lock()
	m.snap.Transcriptions[result]++
	m.mu.Unlock()
}

// ObserveTranscriptionDuration records transcription duration.
func (m *InMemoryRecorder) ObserveTranscriptionDuration(duration time.Duration) {
	m.mu.Lock()
	m.snap.TranscriptionDurationCount++
	m.snap.TranscriptionDurationTotal += duration
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
