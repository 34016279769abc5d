package notify

import (
	"strings"
	"testing"
	"unicode/utf8"

	"remindly/internal/reminder"
)

func TestComposeTones(t *testing.T) {
	r := &reminder.Reminder{ID: 1, Message: "Call mom", Tone: reminder.ToneUrgent}
	subject, body := Compose(r)
	if subject != "Urgent reminder: Call mom" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.HasPrefix(body, "URGENT:") || !strings.Contains(body, "Call mom") {
		t.Fatalf("body = %q", body)
	}

	r.Tone = "unknown"
	subject, _ = Compose(r)
	if subject != "Reminder: Call mom" {
		t.Fatalf("fallback subject = %q", subject)
	}
}

func TestComposeTruncatesSubject(t *testing.T) {
	r := &reminder.Reminder{Message: strings.Repeat("ä", 100) + "\n\nmore", Tone: reminder.ToneFormal}
	subject, body := Compose(r)

	preview := strings.TrimPrefix(subject, "Reminder: ")
	if n := utf8.RuneCountInString(preview); n != subjectPreview {
		t.Fatalf("preview has %d runes", n)
	}
	if !strings.HasSuffix(preview, "…") {
		t.Fatalf("preview = %q", preview)
	}
	if !strings.Contains(body, "\n\nmore") {
		t.Fatalf("body lost the full message: %q", body)
	}
}

func TestMessageFor(t *testing.T) {
	r := &reminder.Reminder{ID: 9, Message: "Stand up", Tone: reminder.TonePlayful}
	msg := MessageFor(r, Recipient{UserID: 3, Email: "a@example.com"})
	if msg.ReminderID != 9 || msg.To.Email != "a@example.com" || msg.Subject == "" {
		t.Fatalf("msg = %+v", msg)
	}
}
