package notify

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

	"github.com/darshan-rambhia/beacon/internal/model"
)

const (
	webhookTimeout   = 10 * time.Second
	webhookUserAgent = "beacon-webhook/1"
	// Bytes of a failed response body quoted in the returned error.
	webhookErrSnippet = 256
)

// WebhookProvider posts alert notifications as JSON to an HTTP endpoint.
// Each request carries the event kind in X-Beacon-Event and a delivery key in
// X-Beacon-Delivery that is identical for every attempt at the same alert
// transition, so receivers can drop duplicates. Redirects are not followed.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewWebhook creates a webhook provider. An empty method means POST.
// Configured headers are applied last and may override the defaults.
func NewWebhook(url, method string, headers map[string]string) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookProvider{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		client: &http.Client{
			Timeout: webhookTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

// URL returns the endpoint the provider posts to.
func (w *WebhookProvider) URL() string { return w.url }

// deliveryKey identifies one alert transition on one host.
func deliveryKey(n model.Notification) string {
	return strings.Join([]string{
		n.Hostname,
		n.Definition.ID,
		strconv.FormatInt(n.Alert.Date, 10),
		n.Action,
	}, "/")
}

func (w *WebhookProvider) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Beacon-Event", n.Action)
	req.Header.Set("X-Beacon-Delivery", deliveryKey(n))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send %s for %s: %w", n.Definition.ID, n.Hostname, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookErrSnippet))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
