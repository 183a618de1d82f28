package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpPostTimeout bounds the whole request, not just the dial, since the
// spec treats "non-2xx" and "unreachable" the same way (a swallowed,
// logged failure).
const httpPostTimeout = 10 * time.Second

// HTTPSender delivers alerts as a JSON POST with HTTP Basic auth.
type HTTPSender struct {
	TunnelManagerID string

	url      string
	user     string
	password string

	client *http.Client
}

// NewHTTPSender returns a ready-to-use HTTPSender. url, user and password
// come straight from the top-level config's http_url/http_user/http_password.
func NewHTTPSender(tunnelManagerID, url, user, password string) *HTTPSender {
	return &HTTPSender{
		TunnelManagerID: tunnelManagerID,
		url:             url,
		user:            user,
		password:        password,
		client:          &http.Client{Timeout: httpPostTimeout},
	}
}

type httpAlertPayload struct {
	TunnelName      string `json:"tunnel_name"`
	Message         string `json:"message"`
	TunnelManagerID string `json:"tunnel_manager_id"`
}

// SendAlert POSTs one notification. Unlike the SMTP sender, HTTP POST has
// no rate limiter of its own — spec.md §4.4 specifies rate limiting only
// for the SMTP variant.
func (h *HTTPSender) SendAlert(tunnelName, message string) error {
	if message == "" {
		message = "Connector Down!"
	}
	body, err := json.Marshal(httpAlertPayload{
		TunnelName:      tunnelName,
		Message:         message,
		TunnelManagerID: h.TunnelManagerID,
	})
	if err != nil {
		return fmt.Errorf("alerts: http: marshal body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: http: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.user != "" {
		req.SetBasicAuth(h.user, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: http: post %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: http: post %s: status %s", h.url, resp.Status)
	}
	return nil
}
