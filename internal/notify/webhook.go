package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Poster interface {
	Post(ctx context.Context, payload any) error
}

// WebhookPoster POSTs JSON to an incoming-webhook URL. Any 2xx counts as delivered.
type WebhookPoster struct {
	url    string
	client *http.Client
}

func NewWebhookPoster(url string, client *http.Client) *WebhookPoster {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookPoster{url: url, client: client}
}

func (p *WebhookPoster) Post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
