package http

import (
	"net/http"

	"remindly/internal/auth"
	"remindly/internal/config"
	"remindly/internal/http/handler"
	mw "remindly/internal/http/middleware"
	"remindly/internal/metrics"
	"remindly/internal/ws"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps carries everything the router serves.
type Deps struct {
	Config        config.Config
	Logger        *zap.Logger
	JWT           *auth.JWT
	Reminders     *handler.ReminderHandler
	Me            *handler.MeHandler
	Notifications *handler.NotificationHandler
	Webhook       *handler.WebhookHandler
	Billing       *handler.BillingHandler // nil disables the billing webhook
	Hub           *ws.Hub
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger(d.Logger))
	r.Use(metrics.HTTPMiddleware)
	r.Use(chimw.Recoverer)

	if len(d.Config.HTTP.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(d.Config.HTTP.CORSAllowedOrigins, d.Config.HTTP.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhooks/reminders/deliver", d.Webhook.Deliver)
	if d.Billing != nil {
		r.Post("/webhooks/billing/subscriptions", d.Billing.Subscription)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/me", d.Me.Me)
		r.Put("/me", d.Me.Update)
		r.Delete("/me", d.Me.Delete)

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", d.Reminders.Create)
			r.Get("/", d.Reminders.List)
			r.Get("/snooze-suggestion", d.Reminders.SnoozeSuggestion)

			r.Get("/{id}", d.Reminders.Get)
			r.Get("/{id}/attempts", d.Reminders.Attempts)
			r.Post("/{id}/snooze", d.Reminders.Snooze)
			r.Post("/{id}/dismiss", d.Reminders.Dismiss)
		})

		r.Get("/notifications", d.Notifications.List)
		r.Post("/notifications/{id}/read", d.Notifications.MarkRead)

		if d.Hub != nil {
			userID := func(r *http.Request) (uint64, bool) { return auth.UserIDFromContext(r.Context()) }
			r.Handle("/ws", ws.NewHandler(d.Hub, userID, d.Config.HTTP.CORSAllowedOrigins))
		}
	})

	return r
}
