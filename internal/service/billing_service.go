package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"tiergate/internal/config"
	"tiergate/internal/model"
	"tiergate/internal/repository"
	"tiergate/internal/token"
)

var (
	// ErrMissingField indicates the caller supplied incomplete input.
	ErrMissingField = errors.New("missing required field")
	// ErrNoStripeCustomer indicates the user has no billing customer reference.
	ErrNoStripeCustomer = errors.New("user has no stripe customer")
)

// CheckoutSession is the result of issuing a purchase-intent session.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// SubscriptionInfo is the provider-side view of a user's subscription.
type SubscriptionInfo struct {
	Status           model.SubscriptionStatus `json:"status"`
	Tier             model.Tier               `json:"tier"`
	SubscriptionID   string                   `json:"subscription_id,omitempty"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end,omitempty"`
}

// stripeAPI is the slice of the Stripe client this service depends on.
// Injected so tests can substitute a fake instead of the live backend.
type stripeAPI interface {
	CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	CancelSubscription(id string) (*stripe.Subscription, error)
	FirstSubscriptionForCustomer(customerID string) (*stripe.Subscription, error)
}

// BillingService keeps local entitlement state synchronized with Stripe.
type BillingService struct {
	cfg      *config.Config
	userRepo repository.UserRepository
	tokens   *token.Issuer
	api      stripeAPI
	logger   zerolog.Logger
}

// NewBillingService initializes the Stripe key and returns the service with a
// scoped logger.
func NewBillingService(cfg *config.Config, userRepo repository.UserRepository, tokens *token.Issuer, logger zerolog.Logger) *BillingService {
	stripe.Key = cfg.StripeSecretKey
	lg := logger.With().Str("service", "BillingService").Logger()
	return &BillingService{cfg: cfg, userRepo: userRepo, tokens: tokens, api: liveStripeAPI{}, logger: lg}
}

// getOrCreateCustomer ensures a Stripe customer exists for the user. This is
// the only place a missing customer reference is backfilled; once assigned it
// is never replaced here.
func (s *BillingService) getOrCreateCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	cust, err := s.api.CreateCustomer(&stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Name:     stripe.String(user.Name),
		Metadata: map[string]string{"user_id": user.UserID},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Str("email", user.Email).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to store stripe customer id")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	user.StripeCustomerID = &cust.ID
	return cust.ID, nil
}

// CreateCheckoutSession issues a hosted checkout session for the given price
// and plan. The user's id rides along as the client reference so the webhook
// can trace the purchase back. Provider failures are surfaced as-is and never
// retried: a blind retry could create duplicate customers.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, user *model.User, priceID, planName string) (*CheckoutSession, error) {
	if priceID == "" {
		return nil, fmt.Errorf("%w: priceId", ErrMissingField)
	}
	if planName == "" {
		return nil, fmt.Errorf("%w: planName", ErrMissingField)
	}

	s.logger.Info().Str("email", user.Email).Str("plan", planName).Msg("Creating checkout session")

	customerID, err := s.getOrCreateCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	// The payment token only pre-fills the post-payment landing page. It
	// carries no authority to mutate tier; only the webhook does that.
	paymentToken, err := s.tokens.IssuePayment(user, planName)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to mint payment token")
		return nil, fmt.Errorf("mint payment token: %w", err)
	}
	successURL := fmt.Sprintf("%s?token=%s&email=%s&plan=%s",
		s.cfg.CheckoutSuccessURL, paymentToken, url.QueryEscape(user.Email), planName)
	cancelURL := s.cfg.CheckoutCancelURL + "?canceled=true"

	sess, err := s.api.CreateCheckoutSession(&stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
		ClientReferenceID:  stripe.String(user.UserID),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("email", user.Email).Str("plan", planName).Msg("Failed to create Stripe checkout session")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info().Str("email", user.Email).Str("plan", planName).Str("session_id", sess.ID).Msg("Checkout session created")
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession creates a Stripe customer portal session.
func (s *BillingService) CreatePortalSession(ctx context.Context, user *model.User, returnURL string) (string, error) {
	if returnURL == "" {
		return "", fmt.Errorf("%w: returnUrl", ErrMissingField)
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", ErrNoStripeCustomer
	}
	sess, err := s.api.CreatePortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*user.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create Stripe billing portal session")
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// CancelSubscription cancels at the provider, then downgrades the local
// record. The ordering matters: a provider failure leaves the local tier
// untouched.
func (s *BillingService) CancelSubscription(ctx context.Context, user *model.User, subscriptionID string) (*stripe.Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscriptionId", ErrMissingField)
	}
	sub, err := s.api.CancelSubscription(subscriptionID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Str("subscription_id", subscriptionID).Msg("Failed to cancel Stripe subscription")
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	if err := s.userRepo.UpdateTier(ctx, user.UserID, model.TierFree, model.StatusCanceled); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to downgrade user after cancellation")
		return nil, fmt.Errorf("downgrade user: %w", err)
	}
	s.logger.Info().Str("email", user.Email).Str("subscription_id", subscriptionID).Msg("Subscription canceled")
	return sub, nil
}

// GetSubscriptionStatus reports the user's subscription as seen by Stripe.
// Users without a customer reference are free/none without a provider call.
func (s *BillingService) GetSubscriptionStatus(ctx context.Context, user *model.User) (*SubscriptionInfo, error) {
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return &SubscriptionInfo{Status: model.StatusNone, Tier: model.TierFree}, nil
	}
	sub, err := s.api.FirstSubscriptionForCustomer(*user.StripeCustomerID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to fetch subscription from Stripe")
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	if sub == nil {
		return &SubscriptionInfo{Status: model.StatusNone, Tier: model.TierFree}, nil
	}
	info := &SubscriptionInfo{SubscriptionID: sub.ID, Status: model.StatusNone, Tier: model.TierFree}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		info.Status = model.StatusActive
		info.Tier = model.TierPremium
	case stripe.SubscriptionStatusCanceled:
		info.Status = model.StatusCanceled
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
		info.CurrentPeriodEnd = &end
	}
	return info, nil
}
