package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const DefaultMixpanelURL = "https://api.mixpanel.com/track"

// Mixpanel tracks events through the ingestion API.
type Mixpanel struct {
	token  string
	url    string
	client *http.Client
}

func NewMixpanel(token, url string, client *http.Client) *Mixpanel {
	if url == "" {
		url = DefaultMixpanelURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Mixpanel{token: token, url: url, client: client}
}

func (m *Mixpanel) Name() string { return "mixpanel" }

type mixpanelEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

func (m *Mixpanel) Send(ctx context.Context, eventName string, payload any) error {
	props, err := properties(payload)
	if err != nil {
		return fmt.Errorf("mixpanel: %w", err)
	}
	distinctID := entityID(props)
	if distinctID == "" {
		distinctID = "anonymous"
	}
	props["token"] = m.token
	props["distinct_id"] = distinctID

	if err := postJSON(ctx, m.client, m.url, []mixpanelEvent{{Event: eventName, Properties: props}}); err != nil {
		return fmt.Errorf("mixpanel: %w", err)
	}
	return nil
}
