// Package notify delivers rendered reminders over email, push and in-app
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"remindly/internal/reminder"
)

type Recipient struct {
	UserID    uint64
	Email     string
	PushToken string
}

type Message struct {
	ReminderID uint64
	To         Recipient
	Subject    string
	Body       string
}

// Receipt identifies the message at the provider, if it told us.
type Receipt struct {
	ProviderMessageID string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (bad address, unregistered
// device, rejected content).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

var ErrNoRecipient = errors.New("recipient has no address for channel")

// Mux routes a message to the sender registered for its channel.
type Mux struct {
	senders map[reminder.Channel]Sender
}

func NewMux() *Mux {
	return &Mux{senders: make(map[reminder.Channel]Sender)}
}

func (m *Mux) Handle(ch reminder.Channel, s Sender) *Mux {
	if s != nil {
		m.senders[ch] = s
	}
	return m
}

func (m *Mux) Send(ctx context.Context, ch reminder.Channel, msg Message) (Receipt, error) {
	s, ok := m.senders[ch]
	if !ok {
		return Receipt{}, Permanent(fmt.Errorf("channel %q is not configured", ch))
	}
	return s.Send(ctx, msg)
}
