// Package delivery turns a delay-queue callback into at most one successful
// notification cycle per reminder.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindly/internal/auth"
	"remindly/internal/entitlement"
	"remindly/internal/events"
	"remindly/internal/metrics"
	"remindly/internal/notify"
	"remindly/internal/reminder"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ReasonNotFound       = "not_found"
	ReasonNotDue         = "not_due"
	ReasonInProgress     = "in_progress"
	ReasonDelivered      = "delivered"
	ReasonStatusChanged  = "status_changed"
	ReasonLeaseLost      = "lease_lost"
	ReasonRetryScheduled = "retry_scheduled"
	ReasonFailed         = "delivery_failed"
	ReasonExhausted      = "retries_exhausted"
	ReasonBadMethod      = "invalid_notification_method"
)

// Store is the part of the reminder store the dispatcher drives.
type Store interface {
	Find(ctx context.Context, id uint64) (*reminder.Reminder, error)
	ClaimDispatch(ctx context.Context, id uint64, token string, now, leaseUntil time.Time) (bool, error)
	ReleaseDispatch(ctx context.Context, id uint64, token, lastErr string) (int, error)
	CompleteDispatch(ctx context.Context, id uint64, token string, ev reminder.Event, attempts []reminder.DeliveryAttempt, lastErr *string) (reminder.CompleteResult, error)
}

type Contacts interface {
	Lookup(ctx context.Context, userID uint64) (*auth.User, error)
}

type Transport interface {
	Send(ctx context.Context, ch reminder.Channel, msg notify.Message) (notify.Receipt, error)
}

type Config struct {
	// EarlyTolerance absorbs clock skew with the delay service. Callbacks
	// earlier than this belong to a superseded schedule.
	EarlyTolerance time.Duration
	Lease          time.Duration
	// MaxRetries bounds delivery cycles that end in transient failures.
	MaxRetries  int
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		EarlyTolerance: 30 * time.Second,
		Lease:          2 * time.Minute,
		MaxRetries:     5,
		SendTimeout:    15 * time.Second,
	}
}

type ChannelResult struct {
	Channel   string `json:"channel"`
	Success   bool   `json:"success"`
	Permanent bool   `json:"permanent,omitempty"`
	Error     string `json:"error,omitempty"`

	receipt notify.Receipt
}

// Outcome is what the callback endpoint reports back.
type Outcome struct {
	OK         bool            `json:"ok"`
	ReminderID uint64          `json:"reminder_id"`
	Status     string          `json:"status,omitempty"`
	Reason     string          `json:"reason"`
	Channels   []ChannelResult `json:"channels,omitempty"`
	// Retryable asks the delay service to call again.
	Retryable bool `json:"-"`
}

type Dispatcher struct {
	Store        Store
	Contacts     Contacts
	Transport    Transport
	Entitlements entitlement.Checker
	Events       events.Publisher
	Config       Config
	Logger       *zap.Logger
	Now          func() time.Time
}

func NewDispatcher(store Store, contacts Contacts, transport Transport, ent entitlement.Checker, pub events.Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Dispatcher{
		Store:        store,
		Contacts:     contacts,
		Transport:    transport,
		Entitlements: ent,
		Events:       pub,
		Config:       cfg,
		Logger:       logger,
		Now:          time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// Deliver handles one callback for reminderID. A non-nil error means the
// store could not be reached and nothing was decided.
func (d *Dispatcher) Deliver(ctx context.Context, reminderID uint64) (Outcome, error) {
	start := time.Now()
	out, err := d.deliver(ctx, reminderID)
	metrics.ObserveDispatch(time.Since(start))
	if err != nil {
		metrics.IncDispatchOutcome("error")
		return out, err
	}
	metrics.IncDispatchOutcome(out.Reason)
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, id uint64) (Outcome, error) {
	log := d.Logger.With(zap.Uint64("reminder_id", id))
	now := d.now()

	r, err := d.Store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			return Outcome{OK: true, ReminderID: id, Reason: ReasonNotFound}, nil
		}
		return Outcome{ReminderID: id}, err
	}
	if !reminder.Deliverable(r.Status) {
		return alreadyDone(r), nil
	}
	if r.RemindAt.Sub(now) > d.Config.EarlyTolerance {
		log.Debug("callback ahead of schedule", zap.Time("remind_at", r.RemindAt))
		return Outcome{OK: true, ReminderID: id, Status: string(r.Status), Reason: ReasonNotDue}, nil
	}

	token := uuid.NewString()
	claimed, err := d.Store.ClaimDispatch(ctx, id, token, now, now.Add(d.Config.Lease))
	if err != nil {
		return Outcome{ReminderID: id}, err
	}
	if !claimed {
		cur, err := d.Store.Find(ctx, id)
		switch {
		case errors.Is(err, reminder.ErrNotFound):
			return Outcome{OK: true, ReminderID: id, Reason: ReasonNotFound}, nil
		case err != nil:
			return Outcome{ReminderID: id}, err
		case !reminder.Deliverable(cur.Status):
			return alreadyDone(cur), nil
		}
		return Outcome{ReminderID: id, Status: string(cur.Status), Reason: ReasonInProgress, Retryable: true}, nil
	}
	metrics.ObserveDispatchLag(now.Sub(r.RemindAt))

	channels, err := reminder.ParseMethod(r.NotificationMethod)
	if err != nil {
		return d.fail(ctx, r, token, nil, ReasonBadMethod, err.Error())
	}

	to, contactErr := d.recipient(ctx, r.UserID)
	if contactErr != nil {
		log.Warn("contact lookup failed", zap.Error(contactErr))
	}

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		res := d.sendOne(ctx, r, ch, to, contactErr)
		metrics.IncChannelSend(string(ch), res.Success)
		if !res.Success {
			log.Info("channel send failed",
				zap.String("channel", res.Channel), zap.Bool("permanent", res.Permanent), zap.String("error", res.Error))
		}
		results = append(results, res)
	}

	var attempts []reminder.DeliveryAttempt
	for _, res := range results {
		if !res.Success {
			continue
		}
		a := reminder.DeliveryAttempt{
			ID:         uuid.NewString(),
			ReminderID: r.ID,
			UserID:     r.UserID,
			Channel:    reminder.Channel(res.Channel),
			SentAt:     d.now(),
			Success:    true,
		}
		if res.receipt.ProviderMessageID != "" {
			pid := res.receipt.ProviderMessageID
			a.ProviderMessageID = &pid
		}
		attempts = append(attempts, a)
	}

	if len(attempts) > 0 {
		return d.complete(ctx, r, token, attempts, results)
	}

	lastErr := summarize(results)
	transient := false
	for _, res := range results {
		if !res.Permanent {
			transient = true
			break
		}
	}
	if transient && r.DispatchAttempts+1 < d.Config.MaxRetries {
		n, err := d.Store.ReleaseDispatch(ctx, r.ID, token, lastErr)
		if err != nil {
			return Outcome{ReminderID: id}, err
		}
		log.Info("delivery deferred for retry", zap.Int("attempts", n))
		return Outcome{
			ReminderID: id,
			Status:     string(r.Status),
			Reason:     ReasonRetryScheduled,
			Channels:   results,
			Retryable:  true,
		}, nil
	}

	reason := ReasonFailed
	if transient {
		reason = ReasonExhausted
	}
	return d.fail(ctx, r, token, results, reason, lastErr)
}

func alreadyDone(r *reminder.Reminder) Outcome {
	return Outcome{
		OK:         true,
		ReminderID: r.ID,
		Status:     string(r.Status),
		Reason:     "already_" + string(r.Status),
	}
}

func (d *Dispatcher) recipient(ctx context.Context, userID uint64) (notify.Recipient, error) {
	to := notify.Recipient{UserID: userID}
	if d.Contacts == nil {
		return to, nil
	}
	u, err := d.Contacts.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return to, nil
		}
		return to, err
	}
	to.Email = u.Email
	if u.PushToken != nil {
		to.PushToken = *u.PushToken
	}
	return to, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, r *reminder.Reminder, ch reminder.Channel, to notify.Recipient, contactErr error) ChannelResult {
	res := ChannelResult{Channel: string(ch)}

	if ch == reminder.ChannelPush && d.Entitlements != nil {
		ok, err := d.Entitlements.IsFeatureEnabled(ctx, r.UserID, entitlement.FeaturePushNotifications)
		if err != nil {
			res.Error = "entitlement lookup: " + err.Error()
			return res
		}
		if !ok {
			res.Permanent = true
			res.Error = "push notifications are not included in the user's plan"
			return res
		}
	}
	if contactErr != nil && ch != reminder.ChannelInApp {
		res.Error = "contact lookup: " + contactErr.Error()
		return res
	}

	sctx := ctx
	if d.Config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.Config.SendTimeout)
		defer cancel()
	}

	receipt, err := d.Transport.Send(sctx, ch, notify.MessageFor(r, to))
	if err != nil {
		res.Error = err.Error()
		res.Permanent = notify.IsPermanent(err)
		return res
	}
	res.Success = true
	res.receipt = receipt
	return res
}

func (d *Dispatcher) complete(ctx context.Context, r *reminder.Reminder, token string, attempts []reminder.DeliveryAttempt, results []ChannelResult) (Outcome, error) {
	log := d.Logger.With(zap.Uint64("reminder_id", r.ID))

	var lastErr *string
	if s := summarize(results); s != "" {
		lastErr = &s
	}
	res, err := d.Store.CompleteDispatch(ctx, r.ID, token, reminder.EventDelivered, attempts, lastErr)
	if err != nil {
		return Outcome{ReminderID: r.ID}, err
	}

	out := Outcome{OK: true, ReminderID: r.ID, Channels: results}
	switch {
	case res.LeaseLost:
		log.Warn("dispatch lease expired before completion, another callback owns the reminder")
		out.Reason = ReasonLeaseLost
		return out, nil
	case !res.Transitioned:
		// A dismiss landed while the transport was busy. The send is logged,
		// the user's decision stays.
		out.Reason = ReasonStatusChanged
		if cur, err := d.Store.Find(ctx, r.ID); err == nil {
			out.Status = string(cur.Status)
		}
		return out, nil
	}

	metrics.IncTransition(string(reminder.EventDelivered))
	out.Status = string(reminder.StatusSent)
	out.Reason = ReasonDelivered

	chs := make([]string, 0, len(attempts))
	for _, a := range attempts {
		chs = append(chs, string(a.Channel))
	}
	d.publish(ctx, events.ReminderEvent{
		Type:       events.TypeReminderSent,
		ReminderID: r.ID,
		UserID:     r.UserID,
		Channels:   chs,
		OccurredAt: d.now(),
	})
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, r *reminder.Reminder, token string, results []ChannelResult, reason, lastErr string) (Outcome, error) {
	res, err := d.Store.CompleteDispatch(ctx, r.ID, token, reminder.EventDeliveryFailed, nil, &lastErr)
	if err != nil {
		return Outcome{ReminderID: r.ID}, err
	}

	out := Outcome{ReminderID: r.ID, Reason: reason, Channels: results}
	switch {
	case res.LeaseLost:
		out.OK = true
		out.Reason = ReasonLeaseLost
		return out, nil
	case !res.Transitioned:
		out.OK = true
		out.Reason = ReasonStatusChanged
		if cur, err := d.Store.Find(ctx, r.ID); err == nil {
			out.Status = string(cur.Status)
		}
		return out, nil
	}

	metrics.IncTransition(string(reminder.EventDeliveryFailed))
	d.Logger.Warn("reminder delivery failed",
		zap.Uint64("reminder_id", r.ID), zap.String("reason", reason), zap.String("error", lastErr))
	out.Status = string(reminder.StatusFailed)

	d.publish(ctx, events.ReminderEvent{
		Type:       events.TypeReminderFailed,
		ReminderID: r.ID,
		UserID:     r.UserID,
		Reason:     reason,
		OccurredAt: d.now(),
	})
	return out, nil
}

func (d *Dispatcher) publish(ctx context.Context, ev events.ReminderEvent) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(ctx, ev); err != nil {
		d.Logger.Warn("publish reminder event",
			zap.String("type", ev.Type), zap.Uint64("reminder_id", ev.ReminderID), zap.Error(err))
	}
}

func summarize(results []ChannelResult) string {
	var parts []string
	for _, r := range results {
		if !r.Success && r.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Channel, r.Error))
		}
	}
	return strings.Join(parts, "; ")
}
