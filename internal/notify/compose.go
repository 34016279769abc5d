package notify

import (
	"strings"
	"unicode/utf8"

	"remindly/internal/reminder"
)

const subjectPreview = 60

var tonePrefix = map[string]string{
	reminder.ToneFriendly: "Hey! Just a friendly reminder:",
	reminder.ToneFormal:   "This is a reminder regarding the following:",
	reminder.ToneUrgent:   "URGENT: please attend to this now:",
	reminder.TonePlayful:  "Knock knock! Guess what time it is?",
}

var toneSubject = map[string]string{
	reminder.ToneFriendly: "Reminder",
	reminder.ToneFormal:   "Reminder",
	reminder.ToneUrgent:   "Urgent reminder",
	reminder.TonePlayful:  "Psst, a reminder",
}

// Compose renders the subject and body for a reminder in its tone.
func Compose(r *reminder.Reminder) (subject, body string) {
	tone := r.Tone
	if _, ok := tonePrefix[tone]; !ok {
		tone = reminder.ToneFriendly
	}

	preview := strings.Join(strings.Fields(r.Message), " ")
	if utf8.RuneCountInString(preview) > subjectPreview {
		preview = string([]rune(preview)[:subjectPreview-1]) + "…"
	}

	subject = toneSubject[tone] + ": " + preview
	body = tonePrefix[tone] + "\n\n" + r.Message + "\n"
	return subject, body
}

// MessageFor builds the transport message for r addressed to to.
func MessageFor(r *reminder.Reminder, to Recipient) Message {
	subject, body := Compose(r)
	return Message{ReminderID: r.ID, To: to, Subject: subject, Body: body}
}
