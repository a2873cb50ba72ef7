// Package model defines domain entities for the application.
package model

import (
	"errors"
	"strings"
	"time"
)

// Plan is a subscription tier. It determines the monthly request quota.
type Plan string

// Plan constants.
const (
	PlanFree   Plan = "free"
	PlanSilver Plan = "silver"
	PlanGold   Plan = "gold"
)

// DefaultPlan is the plan operator tools register users on unless told
// otherwise. The HTTP registration route always requires an explicit plan.
const DefaultPlan = PlanFree

// ValidPlans contains all recognized plan values.
var ValidPlans = []Plan{PlanFree, PlanSilver, PlanGold}

// ErrUnknownPlan indicates a plan name outside ValidPlans.
var ErrUnknownPlan = errors.New("unknown subscription plan")

// ParsePlan validates a plan name. Matching is case-insensitive and
// surrounding whitespace is ignored.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlanFree, PlanSilver, PlanGold:
		return p, nil
	default:
		return "", ErrUnknownPlan
	}
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return string(p)
}

// User is a registered account. IdentityToken is issued once at
// registration and never rotated.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Plan          Plan      `json:"subscription_plan"`
	IdentityToken string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Email            string `json:"email"`
	SubscriptionPlan string `json:"subscription_plan"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}
