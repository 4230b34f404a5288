// Package slack posts confirmed emergency alerts to Slack via incoming
// webhooks so an on-call responder sees them outside the dashboard.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

const httpTimeout = 10 * time.Second

// Notifier sends confirmed alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Dispatch is
// a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Dispatch posts a confirmed alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Dispatch(ctx context.Context, a *alert.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(a)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *alert.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(a),
			locationBlock(a),
			{"type": "divider"},
			contextBlock(a),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	text := fmt.Sprintf("%s Emergency Confirmed: %s", confidenceEmoji(a.Confidence), a.AccidentType)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *alert.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Device:* %s", a.DeviceID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Type:* %s", a.AccidentType),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.0f%%", a.Confidence*100),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Acceleration:* %.2f", a.AccelerationMagnitude),
		},
	}
	if a.UserID != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*User:* %s", a.UserID),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func locationBlock(a *alert.Alert) map[string]any {
	text := "_No location available._"
	if a.Location != nil {
		text = fmt.Sprintf("*Location*\n<https://maps.google.com/?q=%f,%f|%.5f, %.5f>",
			a.Location.Latitude, a.Location.Longitude,
			a.Location.Latitude, a.Location.Longitude)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = a.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("alertaraven • alert %s • %s", a.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func confidenceEmoji(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "\U0001f534" // red circle
	case confidence >= 0.8:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}
