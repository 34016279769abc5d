package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"remindly/internal/auth"
	"remindly/internal/entitlement"
	"remindly/internal/notify"
	"remindly/internal/reminder"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type MeHandler struct {
	Users     *auth.Directory
	Reminders *reminder.Service
	Inbox     *notify.Inbox
	Plans     *entitlement.PlanChecker
	Logger    *zap.Logger
}

type meDTO struct {
	UserID    uint64  `json:"user_id"`
	Email     string  `json:"email,omitempty"`
	PushToken *string `json:"push_token,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
	Plan      string  `json:"plan"`
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	out := meDTO{UserID: uid, Plan: entitlement.PlanFree}
	u, err := h.Users.Lookup(r.Context(), uid)
	switch {
	case err == nil:
		out.Email = u.Email
		out.PushToken = u.PushToken
		out.Timezone = u.Timezone
	case !errors.Is(err, auth.ErrUserNotFound):
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if h.Plans != nil {
		plan, err := h.Plans.Plan(r.Context(), uid)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		out.Plan = plan
	}
	render.JSON(w, r, out)
}

type updateMeReq struct {
	Email     string  `json:"email"`
	PushToken *string `json:"push_token"`
	Timezone  string  `json:"timezone"`
}

func (h *MeHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req updateMeReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			http.Error(w, "invalid email", http.StatusBadRequest)
			return
		}
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			http.Error(w, "invalid timezone", http.StatusBadRequest)
			return
		}
	}
	if req.PushToken != nil && strings.TrimSpace(*req.PushToken) == "" {
		req.PushToken = nil
	}

	u := &auth.User{ID: uid, Email: req.Email, PushToken: req.PushToken, Timezone: req.Timezone}
	if err := h.Users.Upsert(r.Context(), u); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, meDTO{UserID: uid, Email: u.Email, PushToken: u.PushToken, Timezone: u.Timezone, Plan: h.plan(r, uid)})
}

func (h *MeHandler) plan(r *http.Request, uid uint64) string {
	if h.Plans == nil {
		return entitlement.PlanFree
	}
	plan, err := h.Plans.Plan(r.Context(), uid)
	if err != nil {
		return entitlement.PlanFree
	}
	return plan
}

// Delete erases everything stored for the caller.
func (h *MeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	if err := h.Reminders.EraseUser(r.Context(), uid); err != nil {
		h.logError("erase reminders", uid, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.Inbox != nil {
		if err := h.Inbox.DeleteUser(r.Context(), uid); err != nil {
			h.logError("erase notifications", uid, err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	if err := h.Users.Delete(r.Context(), uid); err != nil {
		h.logError("erase profile", uid, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandler) logError(msg string, uid uint64, err error) {
	if h.Logger != nil {
		h.Logger.Error(msg, zap.Uint64("user_id", uid), zap.Error(err))
	}
}
