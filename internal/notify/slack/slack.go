// Package slack sends compliance alert notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

const (
	maxDetailLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier sends compliance alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a compliance alert to the configured Slack webhook. The status
// provides fleet context and may be nil. If no webhook URL is configured,
// Send returns nil immediately.
func (n *Notifier) Send(ctx context.Context, alert *compliance.Alert, status *compliance.Status) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(alert, status)

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

func buildMessage(al *compliance.Alert, st *compliance.Status) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(al),
			{"type": "divider"},
			fieldsBlock(al),
			{"type": "divider"},
			detailBlock(al),
			{"type": "divider"},
			contextBlock(al, st),
		},
	}
}

func headerBlock(al *compliance.Alert) map[string]any {
	text := fmt.Sprintf("%s Compliance Alert: %s", severityEmoji(al.Severity), al.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(al *compliance.Alert) map[string]any {
	due := "n/a"
	if al.DueDate != nil {
		due = fmt.Sprintf("%s (%d days)", al.DueDate.UTC().Format("2006-01-02"), al.DaysUntilDue)
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Vehicle:* %s", al.VehicleID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*VIN:* %s", al.VIN),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", al.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", al.Source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Due:* %s", due),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Type:* %s", al.Type),
		},
	}

	if al.EstimatedCost > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Est. cost:* $%.2f", al.EstimatedCost),
		})
	}
	if len(al.Jurisdictions) > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Jurisdictions:* %s", strings.Join(al.Jurisdictions, ", ")),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(al *compliance.Alert) map[string]any {
	text := truncate(al.Description, maxDetailLen)
	if text == "" {
		text = "_No detail available._"
	}
	if al.ActionRequired != "" {
		text = fmt.Sprintf("%s\n\n*Action required:* %s", text, al.ActionRequired)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(al *compliance.Alert, st *compliance.Status) map[string]any {
	text := fmt.Sprintf("fleetwatch • alert %s • %s", al.ID, al.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	if st != nil {
		text = fmt.Sprintf("fleetwatch • alert %s • vehicle score %d (%s) • %s",
			al.ID, st.OverallScore, st.State, al.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": text,
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(severity compliance.Severity) string {
	switch severity {
	case compliance.SeverityCritical, compliance.SeverityHigh:
		return "\U0001f534" // red circle
	case compliance.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
