package entitlement

import (
	"errors"
	"fmt"
	"time"

	"tiergate/internal/model"
)

// ErrUnknownTier is returned when a tier has no entry in the policy table.
// Defensive: should not occur for the Tier enum values.
var ErrUnknownTier = errors.New("unknown tier")

// Policy holds the feature limits and rate-limit thresholds of one tier.
type Policy struct {
	Tier           model.Tier `json:"tier"`
	DisplayName    string     `json:"display_name"`
	PriceCents     int        `json:"price_cents"`
	RequestsPerDay int        `json:"requests_per_day"`
	MaxFileSizeMB  int        `json:"max_file_size_mb"`
}

// Decision is the outcome of a rate-limit evaluation.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// policies is the static entitlement table. Tier upgrades always target
// premium; price-level granularity beyond the free/premium split is not
// modeled.
var policies = map[model.Tier]Policy{
	model.TierFree: {
		Tier:           model.TierFree,
		DisplayName:    "Free",
		PriceCents:     0,
		RequestsPerDay: 20,
		MaxFileSizeMB:  5,
	},
	model.TierPremium: {
		Tier:           model.TierPremium,
		DisplayName:    "Premium",
		PriceCents:     2000,
		RequestsPerDay: 500,
		MaxFileSizeMB:  50,
	},
}

// Get returns the policy for a tier.
func Get(tier model.Tier) (Policy, error) {
	p, ok := policies[tier]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	return p, nil
}

// List returns all policies, free tier first.
func List() []Policy {
	return []Policy{policies[model.TierFree], policies[model.TierPremium]}
}

// CheckRateLimit decides admit/deny for a tier given current usage counters.
// Pure function: no mutation, no I/O. The decision always consults the policy
// of the tier passed in, which callers must resolve from the user's current
// record, never a cached one.
func CheckRateLimit(tier model.Tier, usage model.UserUsage) (Decision, error) {
	p, ok := policies[tier]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	remaining := p.RequestsPerDay - usage.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   usage.RequestCount < p.RequestsPerDay,
		Remaining: remaining,
		ResetAt:   usage.PeriodEnd,
	}, nil
}
