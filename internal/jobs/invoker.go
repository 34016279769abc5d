package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"remindly/internal/delayqueue"
)

// Invoker delivers a job payload to its target.
type Invoker interface {
	Invoke(ctx context.Context, targetURL string, payload []byte) error
}

// HTTPInvoker POSTs the payload with the same signature header the hosted
// delay service sends, so one webhook handler serves both.
type HTTPInvoker struct {
	Client *http.Client
	Signer *delayqueue.Signer
	Now    func() time.Time
}

func NewHTTPInvoker(signer *delayqueue.Signer, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		Client: &http.Client{Timeout: timeout},
		Signer: signer,
		Now:    time.Now,
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, targetURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if h.Signer != nil {
		now := time.Now()
		if h.Now != nil {
			now = h.Now()
		}
		sig, err := h.Signer.Sign(targetURL, payload, now)
		if err != nil {
			return fmt.Errorf("sign callback: %w", err)
		}
		req.Header.Set(delayqueue.SignatureHeader, sig)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}
