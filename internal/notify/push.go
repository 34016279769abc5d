package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultPushURL = "https://exp.host/--/api/v2/push/send"

// Push sends through an Expo-compatible push gateway.
type Push struct {
	url         string
	accessToken string
	hc          *http.Client
}

type PushConfig struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
	Client      *http.Client
}

func NewPush(cfg PushConfig) *Push {
	if cfg.URL == "" {
		cfg.URL = defaultPushURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Push{url: cfg.URL, accessToken: cfg.AccessToken, hc: cfg.Client}
}

type pushMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Sound string         `json:"sound,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type pushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type pushResponse struct {
	Data []pushTicket `json:"data"`
}

func (p *Push) Send(ctx context.Context, msg Message) (Receipt, error) {
	token := strings.TrimSpace(msg.To.PushToken)
	if token == "" {
		return Receipt{}, Permanent(fmt.Errorf("push: %w", ErrNoRecipient))
	}

	body, err := json.Marshal([]pushMessage{{
		To:    token,
		Title: msg.Subject,
		Body:  msg.Body,
		Sound: "default",
		Data:  map[string]any{"reminder_id": msg.ReminderID},
	}})
	if err != nil {
		return Receipt{}, Permanent(fmt.Errorf("push: encode: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Receipt{}, fmt.Errorf("push: gateway status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Receipt{}, Permanent(fmt.Errorf("push: gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out pushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Receipt{}, fmt.Errorf("push: decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return Receipt{}, fmt.Errorf("push: empty response")
	}

	t := out.Data[0]
	if t.Status != "ok" {
		err := fmt.Errorf("push: %s: %s", t.Details.Error, t.Message)
		switch t.Details.Error {
		case "DeviceNotRegistered", "InvalidCredentials", "MessageTooBig":
			return Receipt{}, Permanent(err)
		}
		return Receipt{}, err
	}
	return Receipt{ProviderMessageID: t.ID}, nil
}
