package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tiergate/internal/api/v1/dto"
	"tiergate/internal/entitlement"
	"tiergate/internal/middleware"
	"tiergate/internal/repository"
	"tiergate/internal/service"
)

// BillingHandler exposes the billing and entitlement endpoints.
type BillingHandler struct {
	billingSvc *service.BillingService
	userRepo   repository.UserRepository
	usageRepo  repository.UsageRepository
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewBillingHandler(billingSvc *service.BillingService, userRepo repository.UserRepository, usageRepo repository.UsageRepository, v *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billingSvc: billingSvc,
		userRepo:   userRepo,
		usageRepo:  usageRepo,
		validate:   v,
		logger:     logger,
	}
}

// RegisterRoutes mounts v1 billing routes. The webhook endpoint is mounted
// without the auth gate: it authenticates with the provider signature.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /billing/checkout", authMw(http.HandlerFunc(h.createCheckoutSession)))
	mux.Handle("GET /billing/tiers", http.HandlerFunc(h.listTiers))
	mux.Handle("GET /billing/subscription", authMw(http.HandlerFunc(h.getSubscriptionStatus)))
	mux.Handle("POST /billing/webhook", http.HandlerFunc(h.billingSvc.HandleWebhook))
	mux.Handle("GET /billing/status", authMw(http.HandlerFunc(h.checkStatus)))
	mux.Handle("POST /billing/cancel", authMw(http.HandlerFunc(h.cancelSubscription)))
	mux.Handle("POST /billing/portal", authMw(http.HandlerFunc(h.createPortalSession)))
	mux.Handle("GET /billing/usage", authMw(http.HandlerFunc(h.tierInfo)))
	mux.Handle("POST /billing/usage", authMw(http.HandlerFunc(h.recordUsage)))
}

func (h *BillingHandler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req dto.CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: priceId, planName")
		return
	}
	sess, err := h.billingSvc.CreateCheckoutSession(r.Context(), user, req.PriceID, req.PlanName)
	if err != nil {
		if errors.Is(err, service.ErrMissingField) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("email", user.Email).Msg("Checkout session error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{
		"sessionId":  sess.SessionID,
		"sessionUrl": sess.URL,
	})
}

func (h *BillingHandler) listTiers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"tiers": entitlement.List()})
}

func (h *BillingHandler) getSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	info, err := h.billingSvc.GetSubscriptionStatus(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"subscription": dto.SubscriptionStatusDTO{
		Status:           info.Status,
		Tier:             info.Tier,
		SubscriptionID:   info.SubscriptionID,
		CurrentPeriodEnd: info.CurrentPeriodEnd,
	}})
}

// checkStatus re-reads the user record by its stable id so the caller sees
// tier changes applied by the webhook reconciler since the token was minted.
func (h *BillingHandler) checkStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	current, err := h.userRepo.GetUserByID(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Status check error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeSuccess(w, map[string]any{"user": current})
}

func (h *BillingHandler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req dto.CancelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing subscriptionId")
		return
	}
	result, err := h.billingSvc.CancelSubscription(r.Context(), user, req.SubscriptionID)
	if err != nil {
		if errors.Is(err, service.ErrMissingField) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"result": result})
}

func (h *BillingHandler) createPortalSession(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req dto.PortalRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing returnUrl")
		return
	}
	portalURL, err := h.billingSvc.CreatePortalSession(r.Context(), user, req.ReturnURL)
	if err != nil {
		if errors.Is(err, service.ErrMissingField) || errors.Is(err, service.ErrNoStripeCustomer) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"url": portalURL})
}

func (h *BillingHandler) tierInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	policy, err := entitlement.Get(user.Tier)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.UserID).Str("tier", string(user.Tier)).Msg("User has unknown tier")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	start, end := currentUsagePeriod(time.Now().UTC())
	usage, err := h.usageRepo.GetUsage(r.Context(), user.UserID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decision, err := entitlement.CheckRateLimit(user.Tier, usage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"user": dto.TierInfoDTO{
		User:       user,
		TierConfig: policy,
		RateLimits: decision,
	}})
}

// recordUsage admits one metered request for the caller. The check and the
// write happen in a single serializable transaction, so concurrent callers
// cannot slip past the tier's daily allowance between read and insert.
func (h *BillingHandler) recordUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	policy, err := entitlement.Get(user.Tier)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.UserID).Str("tier", string(user.Tier)).Msg("User has unknown tier")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	start, end := currentUsagePeriod(time.Now().UTC())
	if err := h.usageRepo.CheckAndRecordRequest(r.Context(), user.UserID, start, end, policy.RequestsPerDay); err != nil {
		if errors.Is(err, repository.ErrRequestLimitExceeded) {
			writeError(w, http.StatusTooManyRequests, "Request limit exceeded for current period")
			return
		}
		h.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Usage recording error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	usage, err := h.usageRepo.GetUsage(r.Context(), user.UserID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decision, err := entitlement.CheckRateLimit(user.Tier, usage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"rateLimits": decision})
}

// currentUsagePeriod returns the UTC day window the rate-limit counters are
// scoped to.
func currentUsagePeriod(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
