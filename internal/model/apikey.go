// Package model defines domain entities for the application.
package model

import (
	"time"
)

// APIKey is a bearer credential owned by a single user.
// Keys are never deleted or rotated.
type APIKey struct {
	ID         string     `json:"id"`
	Key        string     `json:"-"` // Never serialize
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// AuthContext holds the identity resolved by the request gate.
// It is injected into the request context for downstream handlers.
type AuthContext struct {
	KeyID  string
	UserID string
	Email  string
	Plan   Plan
}

// APIKeyCreateResponse includes the plaintext key.
type APIKeyCreateResponse struct {
	APIKey string `json:"api_key"`
}

// UsageResponse reports quota consumption for the calling key.
type UsageResponse struct {
	Plan      Plan      `json:"plan"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
