package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// NtfyProvider sends notifications via an ntfy server.
type NtfyProvider struct {
	url    string
	topic  string
	client *http.Client
}

// NewNtfy creates a new ntfy notification provider.
func NewNtfy(url, topic string) *NtfyProvider {
	return &NtfyProvider{
		url:    strings.TrimRight(url, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	endpoint := fmt.Sprintf("%s/%s", n.url, n.topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(notif.Text))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}

	req.Header.Set("Title", ntfyTitle(notif))
	req.Header.Set("Priority", ntfyPriority(notif))
	req.Header.Set("Tags", ntfyTags(notif))
	if notif.URL != "" {
		req.Header.Set("Click", notif.URL)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func ntfyTitle(n model.Notification) string {
	if n.Resolved() {
		return fmt.Sprintf("Cleared: %s: %s", n.Hostname, n.Definition.Title)
	}
	return fmt.Sprintf("%s: %s", n.Hostname, n.Definition.Title)
}

func ntfyPriority(n model.Notification) string {
	if n.Resolved() {
		return "2"
	}
	return "4"
}

func ntfyTags(n model.Notification) string {
	var tags []string
	if n.Resolved() {
		tags = append(tags, "white_check_mark")
	} else {
		tags = append(tags, "rotating_light")
	}
	if n.Definition.ID != "" {
		tags = append(tags, n.Definition.ID)
	}
	return strings.Join(tags, ",")
}
