package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tiergate/internal/model"
)

// ErrRequestLimitExceeded is returned when a user has reached their request
// limit for the current period.
var ErrRequestLimitExceeded = errors.New("request_limit_exceeded")

// UsageRepository tracks per-user request counters for the rate-limit
// evaluator.
type UsageRepository interface {
	// GetUsage returns the user's request count for the period.
	GetUsage(ctx context.Context, userID string, start, end time.Time) (model.UserUsage, error)
	// CheckAndRecordRequest atomically checks the user's request count for the
	// period and records a new request. Returns ErrRequestLimitExceeded if the
	// limit is reached.
	CheckAndRecordRequest(ctx context.Context, userID string, start, end time.Time, maxRequests int) error
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

const countRequestsQuery = `
	SELECT COUNT(*)
	FROM usage_events
	WHERE user_id = $1
	  AND event_type = 'api_request'
	  AND created_at >= $2
	  AND created_at < $3
`

func (r *usageRepo) GetUsage(ctx context.Context, userID string, start, end time.Time) (model.UserUsage, error) {
	var count int
	if err := r.pool.QueryRow(ctx, countRequestsQuery, userID, start, end).Scan(&count); err != nil {
		return model.UserUsage{}, fmt.Errorf("counting requests for user %s: %w", userID, err)
	}
	return model.UserUsage{
		UserID:       userID,
		RequestCount: count,
		PeriodStart:  start,
		PeriodEnd:    end,
	}, nil
}

func (r *usageRepo) CheckAndRecordRequest(ctx context.Context, userID string, start, end time.Time, maxRequests int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("starting transaction for request check: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	var count int
	if err := tx.QueryRow(ctx, countRequestsQuery, userID, start, end).Scan(&count); err != nil {
		return fmt.Errorf("counting requests for user %s: %w", userID, err)
	}
	if maxRequests > 0 && count >= maxRequests {
		return ErrRequestLimitExceeded
	}
	const insertQ = `INSERT INTO usage_events (user_id, event_type) VALUES ($1, 'api_request')`
	if _, err := tx.Exec(ctx, insertQ, userID); err != nil {
		return fmt.Errorf("recording request event for user %s: %w", userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing request event for user %s: %w", userID, err)
	}
	return nil
}
