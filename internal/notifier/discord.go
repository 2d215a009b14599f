package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender delivers one payload to one channel.
type Sender interface {
	Send(ctx context.Context, channelID string, payload WebhookPayload) error
}

// WebhookSender posts payloads to a Discord-style webhook endpoint. The
// channel ID is appended to the base URL so one base serves every kind.
type WebhookSender struct {
	baseURL string
	client  *http.Client
}

// NewWebhookSender creates a sender for the configured webhook base URL.
func NewWebhookSender(baseURL string) *WebhookSender {
	return &WebhookSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSender) Send(ctx context.Context, channelID string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	url := s.baseURL
	if channelID != "" {
		url = s.baseURL + "/" + channelID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("webhook rate limited: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
