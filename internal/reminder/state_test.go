package reminder

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusPending, EventSnooze, StatusSnoozed},
		{StatusSnoozed, EventSnooze, StatusSnoozed},
		{StatusPending, EventDismiss, StatusDismissed},
		{StatusSnoozed, EventDismiss, StatusDismissed},
		{StatusPending, EventDelivered, StatusSent},
		{StatusSnoozed, EventDelivered, StatusSent},
		{StatusPending, EventDeliveryFailed, StatusFailed},
	}
	for _, c := range cases {
		got, err := Next(c.from, c.ev)
		if err != nil {
			t.Fatalf("Next(%s, %s): %v", c.from, c.ev, err)
		}
		if got != c.want {
			t.Fatalf("Next(%s, %s) = %s, want %s", c.from, c.ev, got, c.want)
		}
	}
}

func TestNextRejectsTerminal(t *testing.T) {
	for _, from := range []Status{StatusDismissed, StatusSent, StatusFailed} {
		for _, ev := range []Event{EventSnooze, EventDismiss, EventDelivered, EventDeliveryFailed} {
			if _, err := Next(from, ev); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Next(%s, %s) err = %v, want ErrInvalidTransition", from, ev, err)
			}
		}
	}
}

func TestSourcesAndTarget(t *testing.T) {
	srcs := Sources(EventDelivered)
	if len(srcs) != 2 || srcs[0] != StatusPending || srcs[1] != StatusSnoozed {
		t.Fatalf("Sources(delivered) = %v", srcs)
	}
	to, err := target(EventDismiss)
	if err != nil || to != StatusDismissed {
		t.Fatalf("target(dismiss) = %s, %v", to, err)
	}
	if _, err := target(Event("bogus")); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestTerminalAndDeliverable(t *testing.T) {
	if StatusPending.Terminal() || StatusSnoozed.Terminal() {
		t.Fatalf("pending and snoozed are not terminal")
	}
	if !StatusSent.Terminal() || !StatusDismissed.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("sent, dismissed and failed are terminal")
	}
	if !Deliverable(StatusSnoozed) || Deliverable(StatusSent) {
		t.Fatalf("Deliverable mismatch")
	}
}

func TestParseMethod(t *testing.T) {
	got, err := ParseMethod(" Email, push ,email ")
	if err != nil {
		t.Fatalf("ParseMethod: %v", err)
	}
	if len(got) != 2 || got[0] != ChannelEmail || got[1] != ChannelPush {
		t.Fatalf("ParseMethod = %v", got)
	}

	all, err := ParseMethod("all")
	if err != nil || len(all) != 3 {
		t.Fatalf("ParseMethod(all) = %v, %v", all, err)
	}

	for _, bad := range []string{"", " , ", "sms", "email,fax"} {
		if _, err := ParseMethod(bad); err == nil {
			t.Fatalf("ParseMethod(%q) should fail", bad)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	cases := map[string]string{
		"push,email":     "email,push",
		"ALL":            "all",
		"in_app":         "in_app",
		"in_app, email ": "email,in_app",
	}
	for in, want := range cases {
		got, err := NormalizeMethod(in)
		if err != nil {
			t.Fatalf("NormalizeMethod(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeMethod(%q) = %q, want %q", in, got, want)
		}
	}
}
