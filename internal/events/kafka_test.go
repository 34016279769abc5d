package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaPublish(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewSyncProducer(t, cfg)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev ReminderEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != TypeReminderSent || ev.ReminderID != 42 || len(ev.Channels) != 1 {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	k := NewKafkaWithProducer(prod, "reminder-events")
	err := k.Publish(context.Background(), ReminderEvent{
		Type:       TypeReminderSent,
		ReminderID: 42,
		UserID:     1,
		Channels:   []string{"email"},
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaPublishError(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewSyncProducer(t, cfg)
	prod.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaWithProducer(prod, "reminder-events")
	err := k.Publish(context.Background(), ReminderEvent{Type: TypeReminderFailed, ReminderID: 1})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("err = %v", err)
	}
	_ = k.Close()
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), ReminderEvent{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
