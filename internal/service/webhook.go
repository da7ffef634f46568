package service

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"tiergate/internal/model"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// HandleWebhook verifies and reconciles inbound Stripe events. The signature
// is checked before the body is parsed as trusted JSON. Once the signature
// passes, the provider gets a 200 even when the event produced no mutation,
// so a missing user never triggers a redelivery storm.
//
// There is no event ledger: a redelivered checkout.session.completed simply
// re-applies the fixed target state (premium/active). That makes redelivery
// harmless for the common case, but a replay arriving after a cancellation
// re-upgrades the user.
func (s *BillingService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		writeWebhookError(w, http.StatusBadRequest, "failed to read payload")
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeWebhookError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	event, err := webhook.ConstructEvent(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		writeWebhookError(w, http.StatusBadRequest, "signature verification failed")
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			s.logger.Error().Err(err).Msg("Invalid checkout.session data")
			writeWebhookError(w, http.StatusBadRequest, "invalid checkout.session data")
			return
		}
		var (
			user *model.User
			err  error
		)
		switch {
		case cs.ClientReferenceID != "":
			user, err = s.userRepo.GetUserByID(ctx, cs.ClientReferenceID)
		case cs.Customer != nil && cs.Customer.ID != "":
			// Fallback for sessions created outside our checkout flow, which
			// carry no client reference.
			user, err = s.userRepo.GetUserByStripeCustomerID(ctx, cs.Customer.ID)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", cs.ID).Msg("Failed to look up user for checkout completion")
			writeWebhookError(w, http.StatusInternalServerError, "failed to look up user")
			return
		}
		if user == nil {
			s.logger.Warn().Str("session_id", cs.ID).Str("client_reference_id", cs.ClientReferenceID).Msg("Checkout completed for unknown user, acknowledging without update")
			break
		}
		if err := s.userRepo.UpdateTier(ctx, user.UserID, model.TierPremium, model.StatusActive); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.UserID).Str("email", user.Email).Msg("Failed to upgrade user on checkout completion")
			writeWebhookError(w, http.StatusInternalServerError, "failed to update tier")
			return
		}
		if cs.Customer != nil && cs.Customer.ID != "" {
			// Re-assigning on replay keeps the reference consistent even if
			// the original backfill was lost.
			if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cs.Customer.ID); err != nil {
				s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to persist customer reference on checkout completion")
				writeWebhookError(w, http.StatusInternalServerError, "failed to persist customer reference")
				return
			}
		}
		s.logger.Info().Str("user_id", user.UserID).Str("email", user.Email).Msg("User upgraded to premium via webhook")
	default:
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "received": true})
}

func writeWebhookError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
