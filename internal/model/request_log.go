package model

import "time"

// Endpoint names recorded in the request log.
const (
	EndpointSpeechToText = "speech-to-text"
	EndpointUsage        = "usage"
)

// RequestLogEntry records one admitted protected call. UserEmail is captured
// at log time and never re-joined. Entries are immutable.
type RequestLogEntry struct {
	ID        string    `json:"id"`
	APIKeyID  string    `json:"api_key_id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
}
