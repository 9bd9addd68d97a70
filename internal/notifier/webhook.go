package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notifier delivers human-readable event messages to an external channel.
type Notifier interface {
	Notify(content string) error
}

// WebhookNotifier posts messages as a JSON payload to a webhook URL. The
// payload shape ({"content": "..."}) is compatible with Discord-style
// webhooks.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (n *WebhookNotifier) Notify(content string) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Post(n.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Noop discards every notification. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(string) error {
	return nil
}
