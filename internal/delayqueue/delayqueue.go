// Package delayqueue schedules reminder callbacks on an external, at-least-once
// delayed message service and keeps the handle semantics best-effort.
package delayqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned by Service.Delete when the job already fired or
// was removed. Callers treat it as "proceed anyway".
var ErrJobNotFound = errors.New("delay job not found")

// Service is the external delayed dispatch capability.
type Service interface {
	Publish(ctx context.Context, targetURL string, notBefore time.Time, payload []byte) (string, error)
	Delete(ctx context.Context, jobID string) error
}

// Payload is the body delivered to the callback target.
type Payload struct {
	ReminderID uint64 `json:"reminder_id"`
}

func EncodePayload(reminderID uint64) ([]byte, error) {
	return json.Marshal(Payload{ReminderID: reminderID})
}

func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode callback payload: %w", err)
	}
	if p.ReminderID == 0 {
		return Payload{}, errors.New("callback payload has no reminder_id")
	}
	return p, nil
}

// SchedulingError means the delay service could not accept a job. It is never
// fatal to the reminder mutation that triggered it.
type SchedulingError struct {
	ReminderID uint64
	Op         string
	Err        error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("delayqueue %s reminder %d: %v", e.Op, e.ReminderID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }
