package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxgate/voxgate/internal/model"
)

// CreateRequestLog inserts an audit entry unconditionally.
func (r *Repository) CreateRequestLog(ctx context.Context, entry *model.RequestLogEntry) error {
	return insertRequestLog(ctx, r.pool, entry)
}

// CountRequestLogs counts entries for an API key at or after since.
func (r *Repository) CountRequestLogs(ctx context.Context, apiKeyID string, since time.Time) (int, error) {
	return countRequestLogs(ctx, r.pool, apiKeyID, since)
}

// CreateRequestLogIfUnderLimit inserts entry only when fewer than limit
// entries exist for its key since the given instant. A transaction-scoped
// advisory lock on the key serializes concurrent reservations, so the count
// and insert are atomic per key. The returned count is the number of entries
// that existed before this call.
func (r *Repository) CreateRequestLogIfUnderLimit(ctx context.Context, entry *model.RequestLogEntry, since time.Time, limit int) (int, bool, error) {
	var (
		count    int
		admitted bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, entry.APIKeyID); err != nil {
			return fmt.Errorf("lock api key: %w", err)
		}

		n, err := countRequestLogs(ctx, tx, entry.APIKeyID, since)
		if err != nil {
			return err
		}
		count = n

		if n >= limit {
			return nil
		}

		if err := insertRequestLog(ctx, tx, entry); err != nil {
			return err
		}
		admitted = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return count, admitted, nil
}

// UserUsage is a per-user aggregate of logged requests.
type UserUsage struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Requests  int    `json:"requests"`
}

// UsageByUser aggregates request counts per user since the given instant.
func (r *Repository) UsageByUser(ctx context.Context, since time.Time) ([]UserUsage, error) {
	query := `
		SELECT user_id, user_email, COUNT(*)
		FROM request_logs
		WHERE timestamp >= $1
		GROUP BY user_id, user_email
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var usage []UserUsage
	for rows.Next() {
		var u UserUsage
		if err := rows.Scan(&u.UserID, &u.UserEmail, &u.Requests); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usage = append(usage, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}

	return usage, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertRequestLog(ctx context.Context, q querier, entry *model.RequestLogEntry) error {
	query := `
		INSERT INTO request_logs (id, api_key_id, user_id, user_email, endpoint, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := q.Exec(ctx, query,
		entry.ID,
		entry.APIKeyID,
		entry.UserID,
		entry.UserEmail,
		entry.Endpoint,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}

	return nil
}

func countRequestLogs(ctx context.Context, q querier, apiKeyID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM request_logs
		WHERE api_key_id = $1 AND timestamp >= $2
	`

	var count int
	if err := q.QueryRow(ctx, query, apiKeyID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count request logs: %w", err)
	}

	return count, nil
}
