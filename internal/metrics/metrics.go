package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Reminders
	remindersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_created_total",
			Help: "Total number of reminders created.",
		},
	)
	reminderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_transitions_total",
			Help: "Reminder status transitions applied, by event.",
		},
		[]string{"event"},
	)
	schedulingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delay_queue_errors_total",
			Help: "Delay queue calls that failed, by operation.",
		},
		[]string{"operation"},
	)

	// Delivery
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_dispatch_outcomes_total",
			Help: "Delivery callback outcomes, by result.",
		},
		[]string{"result"},
	)
	channelSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sends_total",
			Help: "Notification transport calls, by channel and result.",
		},
		[]string{"channel", "result"},
	)
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_dispatch_duration_seconds",
			Help:    "Time spent handling a single delivery callback (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
	dispatchLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_dispatch_lag_seconds",
			Help:    "Lag between remind_at and the delivery callback (seconds).",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Snooze
	snoozeSuggestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snooze_suggestions_total",
			Help: "Smart snooze suggestions served, by reason.",
		},
		[]string{"reason"},
	)

	// Local delay queue
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delay_jobs_processed_total",
			Help: "Local delay jobs handled by the worker, by result.",
		},
		[]string{"result"},
	)

	// Entitlement cache
	entitlementCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_cache_requests_total",
			Help: "Entitlement cache lookups, by result (hit/miss/error).",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			remindersCreated,
			reminderTransitions,
			schedulingErrors,

			dispatchOutcomes,
			channelSends,
			dispatchDuration,
			dispatchLag,

			snoozeSuggestions,
			jobsProcessed,
			entitlementCache,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	c := strconv.Itoa(code)
	httpRequests.WithLabelValues(method, route, c).Inc()
	httpDuration.WithLabelValues(method, route, c).Observe(d.Seconds())
}

// --- Reminders ---
func IncRemindersCreated()                { remindersCreated.Inc() }
func IncTransition(event string)          { reminderTransitions.WithLabelValues(event).Inc() }
func IncSchedulingError(operation string) { schedulingErrors.WithLabelValues(operation).Inc() }

// --- Delivery ---
func IncDispatchOutcome(result string) { dispatchOutcomes.WithLabelValues(result).Inc() }
func IncChannelSend(channel string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	channelSends.WithLabelValues(channel, result).Inc()
}
func ObserveDispatch(d time.Duration) { dispatchDuration.Observe(d.Seconds()) }
func ObserveDispatchLag(d time.Duration) {
	if d < 0 {
		d = 0
	}
	dispatchLag.Observe(d.Seconds())
}

// --- Snooze ---
func IncSnoozeSuggestion(reason string) { snoozeSuggestions.WithLabelValues(reason).Inc() }

// --- Jobs ---
func IncJobProcessed(result string) { jobsProcessed.WithLabelValues(result).Inc() }

// --- Entitlement cache ---
func IncEntitlementCache(result string) { entitlementCache.WithLabelValues(result).Inc() }
