package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"remindly/internal/delayqueue"
	"remindly/internal/delivery"

	"go.uber.org/zap"
)

const hookURL = "https://api.example.com/webhooks/reminders/deliver"

type fakeDeliverer struct {
	out   delivery.Outcome
	err   error
	got   uint64
	ctxOK bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, id uint64) (delivery.Outcome, error) {
	f.got = id
	_, f.ctxOK = ctx.Deadline()
	return f.out, f.err
}

func newWebhook(d Deliverer) *WebhookHandler {
	return &WebhookHandler{
		Verifier:    delayqueue.NewVerifier("", "key"),
		Dispatcher:  d,
		CallbackURL: hookURL,
		Timeout:     time.Minute,
		Logger:      zap.NewNop(),
	}
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	sig, err := delayqueue.NewSigner("key", "").Sign(hookURL, []byte(body), time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/reminders/deliver", strings.NewReader(body))
	req.Header.Set(delayqueue.SignatureHeader, sig)
	return req
}

func TestWebhookDelivers(t *testing.T) {
	d := &fakeDeliverer{out: delivery.Outcome{OK: true, ReminderID: 5, Status: "sent", Reason: delivery.ReasonDelivered}}
	rec := httptest.NewRecorder()
	newWebhook(d).Deliver(rec, signedRequest(t, `{"reminder_id":5}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if d.got != 5 || !d.ctxOK {
		t.Fatalf("dispatcher got id=%d deadline=%v", d.got, d.ctxOK)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["ok"] != true || out["reason"] != delivery.ReasonDelivered {
		t.Fatalf("body = %v", out)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	d := &fakeDeliverer{}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/reminders/deliver", strings.NewReader(`{"reminder_id":5}`))
	req.Header.Set(delayqueue.SignatureHeader, "garbage")
	rec := httptest.NewRecorder()
	newWebhook(d).Deliver(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if d.got != 0 {
		t.Fatalf("dispatcher called for unsigned callback")
	}
}

func TestWebhookBadPayloadIsAcknowledged(t *testing.T) {
	d := &fakeDeliverer{}
	rec := httptest.NewRecorder()
	newWebhook(d).Deliver(rec, signedRequest(t, `{"reminder_id":0}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bad_payload") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebhookRetryableIs503(t *testing.T) {
	d := &fakeDeliverer{out: delivery.Outcome{ReminderID: 5, Status: "pending", Reason: delivery.ReasonRetryScheduled, Retryable: true}}
	rec := httptest.NewRecorder()
	newWebhook(d).Deliver(rec, signedRequest(t, `{"reminder_id":5}`))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookInfraErrorIs500(t *testing.T) {
	d := &fakeDeliverer{err: errors.New("db down")}
	rec := httptest.NewRecorder()
	newWebhook(d).Deliver(rec, signedRequest(t, `{"reminder_id":5}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
