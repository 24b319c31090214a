package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Automation is the browser-automation login addon contract. It is kept
// narrow so tests can substitute a double.
type Automation interface {
	// Health reports whether the addon is ready to accept login requests.
	Health(ctx context.Context) error
	// Login performs a browser-driven login and returns the session cookies.
	Login(ctx context.Context, username, password string) (map[string]string, error)
}

const (
	healthTimeout = 5 * time.Second
	// Browser automation is slow, give the login round trip a full minute.
	loginTimeout = 60 * time.Second
)

// AutomationClient talks to the login addon over HTTP.
type AutomationClient struct {
	baseURL string
	client  *http.Client
}

// NewAutomationClient creates a client for the addon at baseURL.
func NewAutomationClient(baseURL string) *AutomationClient {
	return &AutomationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: loginTimeout},
	}
}

// Health checks GET /health and expects a healthy status.
func (c *AutomationClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("addon reported status %q", health.Status)
	}

	return nil
}

type loginResponse struct {
	Success bool              `json:"success"`
	Cookies map[string]string `json:"cookies"`
	Error   string            `json:"error"`
}

// Login calls POST /login with JSON credentials and returns the cookie set.
func (c *AutomationClient) Login(ctx context.Context, username, password string) (map[string]string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doLogin(req)
}

// LoginForm calls POST /login-form with form-encoded credentials. Same
// semantics as Login; the addon exposes both.
func (c *AutomationClient) LoginForm(ctx context.Context, username, password string) (map[string]string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login-form", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doLogin(req)
}

func (c *AutomationClient) doLogin(req *http.Request) (map[string]string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}

	if !result.Success || len(result.Cookies) == 0 {
		if result.Error != "" {
			return nil, fmt.Errorf("addon login failed: %s", result.Error)
		}
		return nil, fmt.Errorf("addon login failed: no cookies returned")
	}

	return result.Cookies, nil
}
