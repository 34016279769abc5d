package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"remindly/internal/delayqueue"
	"remindly/internal/delivery"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type Deliverer interface {
	Deliver(ctx context.Context, reminderID uint64) (delivery.Outcome, error)
}

// WebhookHandler receives delay-queue callbacks. Status codes steer the
// delay service: 2xx stops retries, 5xx asks for another attempt.
type WebhookHandler struct {
	Verifier    *delayqueue.Verifier
	Dispatcher  Deliverer
	CallbackURL string
	Timeout     time.Duration
	Logger      *zap.Logger
}

const maxCallbackBody = 64 << 10

func (h *WebhookHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		render.JSON(w, r, map[string]any{"ok": false, "reason": "bad_payload"})
		return
	}

	if err := h.Verifier.Verify(r.Header.Get(delayqueue.SignatureHeader), h.CallbackURL, body); err != nil {
		h.Logger.Info("callback signature rejected", zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := delayqueue.DecodePayload(body)
	if err != nil {
		h.Logger.Warn("callback payload rejected", zap.Error(err))
		render.JSON(w, r, map[string]any{"ok": false, "reason": "bad_payload"})
		return
	}

	// The send must finish even if the delay service hangs up.
	ctx := context.WithoutCancel(r.Context())
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := h.Dispatcher.Deliver(ctx, p.ReminderID)
	if err != nil {
		h.Logger.Error("deliver reminder", zap.Uint64("reminder_id", p.ReminderID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("callback handled",
		zap.Uint64("reminder_id", p.ReminderID),
		zap.String("reason", out.Reason),
		zap.String("status", out.Status))

	if out.Retryable {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, out)
}
