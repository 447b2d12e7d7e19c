// Package notify sends task lifecycle alerts to a Telegram chat: task
// created, stopped, removed, restarted, or erroring out, plus periodic
// portfolio summaries rendered by internal/telegramtmpl.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyTaskCreated sends a task_created alert.
func (n *Notifier) NotifyTaskCreated(ctx context.Context, taskID, mode, targetAddress string, fixedAmount float64) error {
	msg := fmt.Sprintf("<b>Task Created</b>\nTask: <code>%s</code>\nMode: %s\nTarget: <code>%s</code>\nFixed Amount: %.2f USDC",
		taskID, mode, targetAddress, fixedAmount)
	return n.Send(ctx, msg)
}

// NotifyTaskStopped sends a task_stopped alert.
func (n *Notifier) NotifyTaskStopped(ctx context.Context, taskID string) error {
	return n.Send(ctx, fmt.Sprintf("<b>Task Stopped</b>\nTask: <code>%s</code>", taskID))
}

// NotifyTaskRemoved sends a task_removed alert.
func (n *Notifier) NotifyTaskRemoved(ctx context.Context, taskID string) error {
	return n.Send(ctx, fmt.Sprintf("<b>Task Removed</b>\nTask: <code>%s</code>", taskID))
}

// NotifyTaskRestarted sends a task_restarted alert.
func (n *Notifier) NotifyTaskRestarted(ctx context.Context, taskID string) error {
	return n.Send(ctx, fmt.Sprintf("<b>Task Restarted</b>\nTask: <code>%s</code>", taskID))
}

// NotifyTaskError sends a task_error alert. commands.Dispatcher sends it
// when one of its task notifications (created, stopped, removed,
// restarted) fails; tick failures do not trigger it.
func (n *Notifier) NotifyTaskError(ctx context.Context, taskID, reason string) error {
	msg := fmt.Sprintf("<b>Task Error</b>\nTask: <code>%s</code>\nReason: %s", taskID, reason)
	return n.Send(ctx, msg)
}

// NotifyPortfolioSummaryTemplate sends a pre-rendered portfolio summary
// built via internal/telegramtmpl.
func (n *Notifier) NotifyPortfolioSummaryTemplate(ctx context.Context, textHTML string) error {
	return n.Send(ctx, textHTML)
}
