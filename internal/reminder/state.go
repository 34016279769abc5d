package reminder

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSnoozed   Status = "snoozed"
	StatusDismissed Status = "dismissed"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further automatic delivery happens this cycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusDismissed, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Deliverable reports whether a delivery callback may fire for s.
func Deliverable(s Status) bool {
	return s == StatusPending || s == StatusSnoozed
}

type Event string

const (
	EventSnooze         Event = "snooze"
	EventDismiss        Event = "dismiss"
	EventDelivered      Event = "delivered"
	EventDeliveryFailed Event = "delivery_failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the single authority for status changes. Store conditions
// and the delivery/snooze/dismiss paths are all derived from it.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventSnooze:         StatusSnoozed,
		EventDismiss:        StatusDismissed,
		EventDelivered:      StatusSent,
		EventDeliveryFailed: StatusFailed,
	},
	StatusSnoozed: {
		EventSnooze:         StatusSnoozed,
		EventDismiss:        StatusDismissed,
		EventDelivered:      StatusSent,
		EventDeliveryFailed: StatusFailed,
	},
}

func Next(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// Sources lists the statuses ev may fire from, in a stable order.
func Sources(ev Event) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusSnoozed, StatusDismissed, StatusSent, StatusFailed} {
		if _, ok := transitions[s][ev]; ok {
			out = append(out, s)
		}
	}
	return out
}

// target returns the single destination of ev. Every event in the table
// leads to the same status regardless of source.
func target(ev Event) (Status, error) {
	srcs := Sources(ev)
	if len(srcs) == 0 {
		return "", fmt.Errorf("%w: %s has no sources", ErrInvalidTransition, ev)
	}
	return Next(srcs[0], ev)
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
