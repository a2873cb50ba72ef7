// Package quota implements the monthly request ledger. A quota window is the
// UTC calendar month; each API key may log at most its plan's limit of
// requests per window.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/model"
)

// Default monthly limits per plan.
const (
	DefaultFreeLimit   = 50
	DefaultSilverLimit = 500
	DefaultGoldLimit   = 2000
)

// Limits is an immutable plan-to-limit table.
type Limits struct {
	byPlan map[model.Plan]int
}

// NewLimits builds a limit table. Every plan in model.ValidPlans must have a
// non-negative limit.
func NewLimits(free, silver, gold int) (Limits, error) {
	byPlan := map[model.Plan]int{
		model.PlanFree:   free,
		model.PlanSilver: silver,
		model.PlanGold:   gold,
	}
	for plan, limit := range byPlan {
		if limit < 0 {
			return Limits{}, fmt.Errorf("negative limit for plan %s: %d", plan, limit)
		}
	}
	return Limits{byPlan: byPlan}, nil
}

// DefaultLimits returns the standard table: free 50, silver 500, gold 2000.
func DefaultLimits() Limits {
	l, _ := NewLimits(DefaultFreeLimit, DefaultSilverLimit, DefaultGoldLimit)
	return l
}

// PlanLimit returns the monthly limit for plan.
func (l Limits) PlanLimit(plan model.Plan) (int, error) {
	limit, ok := l.byPlan[plan]
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownPlan, plan)
	}
	return limit, nil
}

// WindowStart returns the first instant of the UTC calendar month containing now.
func WindowStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextWindowStart returns the first instant of the month after now's window.
func NextWindowStart(now time.Time) time.Time {
	return WindowStart(now).AddDate(0, 1, 0)
}

// Usage describes a key's consumption in the current window.
type Usage struct {
	Limit     int
	Used      int
	Remaining int
	ResetAt   time.Time
}

func newUsage(limit, used int, now time.Time) Usage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetAt:   NextWindowStart(now),
	}
}

// Store is the storage the ledger counts against.
type Store interface {
	CountRequestLogs(ctx context.Context, apiKeyID string, since time.Time) (int, error)
	// CreateRequestLogIfUnderLimit inserts entry only if fewer than limit
	// entries exist for its key since the given instant. The check and the
	// insert must be atomic with respect to other calls for the same key.
	CreateRequestLogIfUnderLimit(ctx context.Context, entry *model.RequestLogEntry, since time.Time, limit int) (count int, admitted bool, err error)
}

// Ledger checks and reserves quota.
type Ledger struct {
	store  Store
	limits Limits
}

// NewLedger creates a Ledger.
func NewLedger(store Store, limits Limits) *Ledger {
	return &Ledger{store: store, limits: limits}
}

// Limits returns the ledger's limit table.
func (l *Ledger) Limits() Limits {
	return l.limits
}

// Permitted reports whether apiKeyID may log another request at now.
func (l *Ledger) Permitted(ctx context.Context, apiKeyID string, plan model.Plan, now time.Time) (bool, error) {
	usage, err := l.Usage(ctx, apiKeyID, plan, now)
	if err != nil {
		return false, err
	}
	return usage.Used < usage.Limit, nil
}

// Usage reports consumption for apiKeyID in the window containing now.
func (l *Ledger) Usage(ctx context.Context, apiKeyID string, plan model.Plan, now time.Time) (Usage, error) {
	limit, err := l.limits.PlanLimit(plan)
	if err != nil {
		return Usage{}, err
	}

	used, err := l.store.CountRequestLogs(ctx, apiKeyID, WindowStart(now))
	if err != nil {
		return Usage{}, fmt.Errorf("count request logs: %w", err)
	}

	return newUsage(limit, used, now), nil
}

// Reserve atomically checks the quota and logs entry. entry.Timestamp is
// used as the reservation instant. When the quota is spent nothing is written
// and an apperr.QuotaExceeded error is returned along with the usage.
func (l *Ledger) Reserve(ctx context.Context, entry *model.RequestLogEntry, plan model.Plan) (Usage, error) {
	limit, err := l.limits.PlanLimit(plan)
	if err != nil {
		return Usage{}, err
	}

	now := entry.Timestamp
	count, admitted, err := l.store.CreateRequestLogIfUnderLimit(ctx, entry, WindowStart(now), limit)
	if err != nil {
		return Usage{}, fmt.Errorf("reserve quota: %w", err)
	}

	if !admitted {
		return newUsage(limit, count, now), apperr.New(apperr.QuotaExceeded, "Monthly request limit exceeded")
	}

	return newUsage(limit, count+1, now), nil
}
