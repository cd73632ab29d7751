package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs intents as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	AlertID     string     `json:"alert_id"`
	ServerID    string     `json:"server_id"`
	ServerName  string     `json:"server_name"`
	Condition   string     `json:"condition"`
	Severity    string     `json:"severity"`
	Kind        string     `json:"kind"`
	Value       float64    `json:"value"`
	Threshold   float64    `json:"threshold"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Message     string     `json:"message"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, intent Intent) error {
	payload := webhookPayload{
		AlertID:     intent.AlertID,
		ServerID:    intent.ServerID,
		ServerName:  intent.ServerName,
		Condition:   string(intent.Condition),
		Severity:    string(intent.Severity),
		Kind:        string(intent.Kind),
		Value:       intent.Value,
		Threshold:   intent.Threshold,
		TriggeredAt: intent.TriggeredAt,
		ResolvedAt:  intent.ResolvedAt,
		Message:     intent.Message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
