package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts events to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(webhookURL string, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Slack{webhookURL: webhookURL, client: client}
}

func (s *Slack) Name() string { return "slack" }

type slackAttachment struct {
	Text string `json:"text"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func (s *Slack) Send(ctx context.Context, eventName string, payload any) error {
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("slack: encode payload: %w", err)
	}
	msg := slackMessage{
		Text:        "Event: " + eventName,
		Attachments: []slackAttachment{{Text: string(pretty)}},
	}
	if err := postJSON(ctx, s.client, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}
