package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"remindly/internal/entitlement"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type SubscriptionStore interface {
	Upsert(ctx context.Context, sub entitlement.Subscription) error
}

type EntitlementInvalidator interface {
	Invalidate(ctx context.Context, userID uint64) error
}

// BillingHandler applies subscription changes pushed by the billing
// provider. Requests carry the shared secret as a bearer token.
type BillingHandler struct {
	Plans  SubscriptionStore
	Cache  EntitlementInvalidator // optional
	Secret string
	Logger *zap.Logger
}

type subscriptionReq struct {
	UserID           uint64     `json:"user_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
}

func (h *BillingHandler) authorized(r *http.Request) bool {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if h.Secret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req subscriptionReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Plan = strings.ToLower(strings.TrimSpace(req.Plan))
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if req.UserID == 0 || req.Plan == "" || req.Status == "" {
		http.Error(w, "user_id, plan and status are required", http.StatusBadRequest)
		return
	}

	sub := entitlement.Subscription{
		UserID:           req.UserID,
		Plan:             req.Plan,
		Status:           req.Status,
		CurrentPeriodEnd: req.CurrentPeriodEnd,
	}
	if err := h.Plans.Upsert(r.Context(), sub); err != nil {
		h.Logger.Error("upsert subscription", zap.Uint64("user_id", req.UserID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), req.UserID); err != nil {
			h.Logger.Warn("invalidate entitlement cache", zap.Uint64("user_id", req.UserID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
