package notify

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"testing"

	"remindly/internal/reminder"
)

type stubSender struct {
	got []Message
	err error
}

func (s *stubSender) Send(_ context.Context, msg Message) (Receipt, error) {
	s.got = append(s.got, msg)
	return Receipt{ProviderMessageID: "x"}, s.err
}

func TestMuxRoutesByChannel(t *testing.T) {
	email, inapp := &stubSender{}, &stubSender{}
	m := NewMux().Handle(reminder.ChannelEmail, email).Handle(reminder.ChannelInApp, inapp)

	if _, err := m.Send(context.Background(), reminder.ChannelEmail, Message{ReminderID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(email.got) != 1 || len(inapp.got) != 0 {
		t.Fatalf("email=%d inapp=%d", len(email.got), len(inapp.got))
	}

	_, err := m.Send(context.Background(), reminder.ChannelPush, Message{})
	if err == nil || !IsPermanent(err) {
		t.Fatalf("unconfigured channel err = %v", err)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad address")
	err := fmt.Errorf("wrapped: %w", Permanent(base))
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("Permanent lost through wrapping: %v", err)
	}
	if IsPermanent(base) {
		t.Fatalf("plain error reported permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) != nil")
	}
}

func TestClassifySMTP(t *testing.T) {
	if !IsPermanent(classifySMTP(&textproto.Error{Code: 550, Msg: "no such user"})) {
		t.Fatalf("550 should be permanent")
	}
	if IsPermanent(classifySMTP(&textproto.Error{Code: 451, Msg: "try later"})) {
		t.Fatalf("451 should be transient")
	}
	if IsPermanent(classifySMTP(errors.New("dial tcp: timeout"))) {
		t.Fatalf("network errors should be transient")
	}
}

func TestSMTPRequiresAddress(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: "465", From: "noreply@example.com"})
	_, err := s.Send(context.Background(), Message{To: Recipient{UserID: 1}})
	if !IsPermanent(err) || !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildMessage(t *testing.T) {
	raw := string(buildMessage("from@example.com", "to@example.com", "Reminder: café", "line1\nline2", "<id@x>"))
	for _, want := range []string{
		"From: from@example.com\r\n",
		"To: to@example.com\r\n",
		"Message-ID: <id@x>\r\n",
		"Subject: =?utf-8?q?",
		"\r\n\r\nline1\r\nline2",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}
