package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tiergate/internal/model"
)

// UserRepository is the user directory. Tier and subscription status are only
// ever written through UpdateTier; the Stripe customer reference only through
// UpdateStripeCustomerID. All mutations are keyed by the stable user id;
// email is a secondary lookup key only.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateTier(ctx context.Context, userID string, tier model.Tier, status model.SubscriptionStatus) error
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a new UserRepository.
func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `user_id, name, email, tier, subscription_status, stripe_customer_id, current_period_end, created_at, updated_at`

func (r *userRepo) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.UserID,
		&u.Name,
		&u.Email,
		&u.Tier,
		&u.SubscriptionStatus,
		&u.StripeCustomerID,
		&u.CurrentPeriodEnd,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM user_profiles WHERE user_id = $1`
	u, err := r.scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM user_profiles WHERE email = $1`
	u, err := r.scanUser(r.pool.QueryRow(ctx, q, email))
	if err != nil {
		return nil, fmt.Errorf("fetch user by email %s: %w", email, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM user_profiles WHERE stripe_customer_id = $1`
	u, err := r.scanUser(r.pool.QueryRow(ctx, q, customerID))
	if err != nil {
		return nil, fmt.Errorf("fetch user by stripe customer %s: %w", customerID, err)
	}
	return u, nil
}

// UpdateTier sets the user's tier and subscription status in a single
// statement, so concurrent readers observe either the old or new record.
func (r *userRepo) UpdateTier(ctx context.Context, userID string, tier model.Tier, status model.SubscriptionStatus) error {
	const q = `
        UPDATE user_profiles
        SET tier = $2, subscription_status = $3, updated_at = NOW()
        WHERE user_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, userID, tier, status); err != nil {
		return fmt.Errorf("update tier for user %s: %w", userID, err)
	}
	return nil
}

func (r *userRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `
        UPDATE user_profiles
        SET stripe_customer_id = $2, updated_at = NOW()
        WHERE user_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, userID, customerID); err != nil {
		return fmt.Errorf("update stripe customer id for user %s: %w", userID, err)
	}
	return nil
}
