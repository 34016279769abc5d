package delayqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultQStashURL = "https://qstash.upstash.io"

// QStash talks to a QStash-compatible delayed message API.
type QStash struct {
	baseURL string
	token   string
	retries int
	hc      *http.Client
}

type QStashOptions struct {
	BaseURL string
	Token   string
	// Retries is how many times the service re-delivers a callback that did
	// not answer 2xx.
	Retries int
	Client  *http.Client
}

func NewQStash(opts QStashOptions) *QStash {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultQStashURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	return &QStash{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		retries: opts.Retries,
		hc:      opts.Client,
	}
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

func (q *QStash) Publish(ctx context.Context, targetURL string, notBefore time.Time, payload []byte) (string, error) {
	if targetURL == "" {
		return "", fmt.Errorf("qstash publish: empty target url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/v2/publish/"+targetURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("qstash publish: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Retries", strconv.Itoa(q.retries))
	if !notBefore.IsZero() {
		req.Header.Set("Upstash-Not-Before", strconv.FormatInt(notBefore.Unix(), 10))
	}

	resp, err := q.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("qstash publish: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("qstash publish: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out publishResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("qstash publish: decode response: %w", err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("qstash publish: response has no messageId")
	}
	return out.MessageID, nil
}

func (q *QStash) Delete(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.baseURL+"/v2/messages/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("qstash delete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)

	resp, err := q.hc.Do(req)
	if err != nil {
		return fmt.Errorf("qstash delete: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrJobNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("qstash delete: status %d", resp.StatusCode)
	}
	return nil
}
