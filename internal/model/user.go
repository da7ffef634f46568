package model

import "time"

// Tier is a named entitlement level controlling feature limits.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// SubscriptionStatus tracks the billing state of a user's subscription.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
)

// User represents a user in the system. Records are created by the
// registration flow; this service only reads them and updates billing state.
type User struct {
	UserID             string             `db:"user_id" json:"user_id"`
	Name               string             `db:"name" json:"name"`
	Email              string             `db:"email" json:"email"`
	Tier               Tier               `db:"tier" json:"tier"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	StripeCustomerID   *string            `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CurrentPeriodEnd   *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// UserUsage represents a user's request usage within the current period.
type UserUsage struct {
	UserID       string    `db:"user_id" json:"user_id"`
	RequestCount int       `db:"request_count" json:"request_count"`
	PeriodStart  time.Time `db:"period_start" json:"period_start"`
	PeriodEnd    time.Time `db:"period_end" json:"period_end"`
}
