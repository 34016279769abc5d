package handler

import (
	"errors"
	"net/http"
	"strconv"

	"remindly/internal/auth"
	"remindly/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type NotificationHandler struct {
	Inbox *notify.Inbox
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	unread := r.URL.Query().Get("unread") == "true"
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.Inbox.List(r.Context(), uid, unread, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []notify.Notification{}
	}
	render.JSON(w, r, map[string]any{"items": rows})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	err := h.Inbox.MarkRead(r.Context(), uid, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, notify.ErrNotificationNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
