package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workerhub/internal/config"
	"workerhub/internal/protocol"
)

const userAgent = "WorkerHub-Go/0.1.0"

// Service mirrors hub toasts to an external notification channel.
type Service interface {
	NotifyToast(ctx context.Context, toast protocol.Toast) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:    topic,
		client:      client,
		minSeverity: protocol.Severity(cfg.Notifications.MinSeverity),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	minSeverity protocol.Severity
}

// NotifyToast forwards toasts at or above the configured minimum severity.
func (n *ntfyService) NotifyToast(ctx context.Context, toast protocol.Toast) error {
	if toast.Severity.Rank() < n.minSeverity.Rank() {
		return nil
	}
	message := strings.TrimSpace(toast.Message)
	if message == "" {
		return nil
	}
	data := payload{
		title:   "WorkerHub - " + severityTitle(toast.Severity),
		message: message,
		tags:    []string{"workerhub", string(toast.Severity)},
	}
	switch toast.Severity {
	case protocol.SeverityError:
		data.priority = "high"
	case protocol.SeveritySuccess, protocol.SeverityInfo:
		data.priority = "low"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "WorkerHub - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"workerhub", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func severityTitle(s protocol.Severity) string {
	switch s {
	case protocol.SeveritySuccess:
		return "Ready"
	case protocol.SeverityWarning:
		return "Warning"
	case protocol.SeverityError:
		return "Error"
	default:
		return "Info"
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyToast(context.Context, protocol.Toast) error { return nil }
func (noopService) TestNotification(context.Context) error            { return nil }
