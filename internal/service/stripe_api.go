package service

import (
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
)

// liveStripeAPI forwards to the stripe-go package-level clients.
type liveStripeAPI struct{}

func (liveStripeAPI) CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customerpkg.New(params)
}

func (liveStripeAPI) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.New(params)
}

func (liveStripeAPI) CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return billingsession.New(params)
}

func (liveStripeAPI) CancelSubscription(id string) (*stripe.Subscription, error) {
	return subscriptionpkg.Cancel(id, nil)
}

func (liveStripeAPI) FirstSubscriptionForCustomer(customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(1)
	iter := subscriptionpkg.List(params)
	for iter.Next() {
		return iter.Subscription(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
