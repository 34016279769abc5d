package handler

import (
	"errors"
	"net/http"
	"strconv"

	"remindly/internal/reminder"

	"github.com/go-chi/chi/v5"
)

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, reminder.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, reminder.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reminder.ErrConflict):
		http.Error(w, "concurrent update, try again", http.StatusConflict)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func idParam(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
