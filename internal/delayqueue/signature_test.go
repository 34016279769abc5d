package delayqueue

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"reminder_id":7}`)
	url := "https://api.example.com/webhooks/reminders/deliver"

	tok, err := NewSigner("current", "").Sign(url, body, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	v := NewVerifier("", "current", "next")
	if err := v.Verify(tok, url, body); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := v.Verify(tok, "", body); err != nil {
		t.Fatalf("Verify without url: %v", err)
	}
}

func TestVerifyAcceptsNextKey(t *testing.T) {
	body := []byte(`{"reminder_id":7}`)
	tok, _ := NewSigner("next", "").Sign("u", body, time.Now())

	if err := NewVerifier("", "current", "next").Verify(tok, "u", body); err != nil {
		t.Fatalf("Verify with next key: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"reminder_id":7}`)
	now := time.Now()
	good, _ := NewSigner("k", "").Sign("u", body, now)
	expired, _ := NewSigner("k", "").Sign("u", body, now.Add(-time.Hour))
	otherIssuer, _ := NewSigner("k", "someone-else").Sign("u", body, now)

	v := NewVerifier("", "k")
	cases := map[string]func() error{
		"empty token":   func() error { return v.Verify("", "u", body) },
		"tampered body": func() error { return v.Verify(good, "u", []byte(`{"reminder_id":8}`)) },
		"wrong url":     func() error { return v.Verify(good, "other", body) },
		"wrong key":     func() error { return NewVerifier("", "x").Verify(good, "u", body) },
		"expired":       func() error { return v.Verify(expired, "u", body) },
		"issuer":        func() error { return v.Verify(otherIssuer, "u", body) },
		"no keys":       func() error { return NewVerifier("", " ").Verify(good, "u", body) },
	}
	for name, fn := range cases {
		if err := fn(); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: err = %v, want ErrInvalidSignature", name, err)
		}
	}
}
