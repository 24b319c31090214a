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

// HomeAssistant raises persistent notifications through the Home Assistant
// HTTP API so an expired session is visible until the user resolves it.
type HomeAssistant struct {
	url    string
	token  string
	client *http.Client
}

// NewHomeAssistant creates a notifier for the Home Assistant instance at url.
func NewHomeAssistant(url, token string) *HomeAssistant {
	return &HomeAssistant{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify creates (or replaces) the psegsync persistent notification.
func (h *HomeAssistant) Notify(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"title":           title,
		"message":         message,
		"notification_id": "psegsync_auth",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	apiURL := h.url + "/api/services/persistent_notification/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
