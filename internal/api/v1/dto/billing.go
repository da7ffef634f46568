package dto

import (
	"time"

	"tiergate/internal/entitlement"
	"tiergate/internal/model"
)

// CheckoutRequestDTO is the payload for creating a checkout session.
type CheckoutRequestDTO struct {
	PriceID  string `json:"priceId" validate:"required"`
	PlanName string `json:"planName" validate:"required"`
}

// CheckoutResponseDTO carries the hosted checkout session to the caller.
type CheckoutResponseDTO struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}

// CancelRequestDTO is the payload for canceling a subscription.
type CancelRequestDTO struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// PortalRequestDTO is the payload for creating a billing portal session.
type PortalRequestDTO struct {
	ReturnURL string `json:"returnUrl" validate:"required,url"`
}

// SubscriptionStatusDTO mirrors the provider-side subscription view.
type SubscriptionStatusDTO struct {
	Status           model.SubscriptionStatus `json:"status"`
	Tier             model.Tier               `json:"tier"`
	SubscriptionID   string                   `json:"subscription_id,omitempty"`
	CurrentPeriodEnd *time.Time               `json:"currentPeriodEnd"`
}

// TierInfoDTO is the authenticated user's entitlement snapshot.
type TierInfoDTO struct {
	User       *model.User          `json:"user"`
	TierConfig entitlement.Policy   `json:"tierConfig"`
	RateLimits entitlement.Decision `json:"rateLimits"`
}
