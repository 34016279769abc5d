package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"remindly/internal/auth"
	"remindly/internal/reminder"
	"remindly/internal/snooze"

	"github.com/go-chi/render"
)

type ReminderHandler struct {
	Svc       *reminder.Service
	Estimator *snooze.Estimator
}

type reminderDTO struct {
	ID                 uint64    `json:"id"`
	Message            string    `json:"message"`
	RemindAt           time.Time `json:"remind_at"`
	Tone               string    `json:"tone"`
	NotificationMethod string    `json:"notification_method"`
	Status             string    `json:"status"`
	Scheduled          bool      `json:"scheduled"`
	SnoozeCount        int       `json:"snooze_count"`
	Version            uint64    `json:"version"`
	LastError          *string   `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toDTO(r *reminder.Reminder) reminderDTO {
	return reminderDTO{
		ID:                 r.ID,
		Message:            r.Message,
		RemindAt:           r.RemindAt.UTC(),
		Tone:               r.Tone,
		NotificationMethod: r.NotificationMethod,
		Status:             string(r.Status),
		Scheduled:          r.DelayJobID != nil,
		SnoozeCount:        r.SnoozeCount,
		Version:            r.Version,
		LastError:          r.LastError,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type attemptDTO struct {
	ID                string    `json:"id"`
	Channel           string    `json:"channel"`
	SentAt            time.Time `json:"sent_at"`
	Success           bool      `json:"success"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
}

type createReminderReq struct {
	Message            string `json:"message"`
	RemindAt           string `json:"remind_at"` // RFC3339
	Tone               string `json:"tone"`
	NotificationMethod string `json:"notification_method"`
}

func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createReminderReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.RemindAt))
	if err != nil {
		http.Error(w, "invalid remind_at (RFC3339)", http.StatusBadRequest)
		return
	}

	rem, err := h.Svc.Create(r.Context(), uid, reminder.CreateInput{
		Message:            req.Message,
		RemindAt:           at,
		Tone:               req.Tone,
		NotificationMethod: req.NotificationMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toDTO(rem))
}

func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var statuses []reminder.Status
	for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		switch st := reminder.Status(s); st {
		case reminder.StatusPending, reminder.StatusSnoozed, reminder.StatusDismissed, reminder.StatusSent, reminder.StatusFailed:
			statuses = append(statuses, st)
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.Svc.List(r.Context(), uid, statuses, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]reminderDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toDTO(&rows[i]))
	}
	render.JSON(w, r, map[string]any{"items": out})
}

func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rem, err := h.Svc.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	render.JSON(w, r, toDTO(rem))
}

func (h *ReminderHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rows, err := h.Svc.Attempts(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]attemptDTO, 0, len(rows))
	for _, a := range rows {
		out = append(out, attemptDTO{
			ID:                a.ID,
			Channel:           string(a.Channel),
			SentAt:            a.SentAt.UTC(),
			Success:           a.Success,
			ProviderMessageID: a.ProviderMessageID,
		})
	}
	render.JSON(w, r, map[string]any{"items": out})
}

type snoozeReq struct {
	Minutes int `json:"minutes"`
}

func (h *ReminderHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req snoozeReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	rem, err := h.Svc.Snooze(r.Context(), uid, id, req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	render.JSON(w, r, toDTO(rem))
}

func (h *ReminderHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rem, err := h.Svc.Dismiss(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	render.JSON(w, r, toDTO(rem))
}

// SnoozeSuggestion answers with the suggestion, or JSON null when the
// user's plan has no smart snooze.
func (h *ReminderHandler) SnoozeSuggestion(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var reminderID *uint64
	if v := strings.TrimSpace(r.URL.Query().Get("reminder_id")); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			http.Error(w, "invalid reminder_id", http.StatusBadRequest)
			return
		}
		if _, err := h.Svc.Get(r.Context(), uid, id); err != nil {
			writeError(w, err)
			return
		}
		reminderID = &id
	}

	s := h.Estimator.Suggest(r.Context(), uid, reminderID)
	render.JSON(w, r, s)
}
