package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/resilience"
)

// Webhook posts messages as JSON to a generic HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client, now: time.Now}
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Send implements Notifier.
func (w *Webhook) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(webhookPayload{
		Text:      text,
		Source:    "formguard",
		Timestamp: w.now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(redactURLError(err), "webhook: send")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	return resilience.CheckHTTPStatus("webhook", resp.StatusCode, string(body))
}

// redactURLError strips the request URL from a client error, keeping the
// underlying cause so transient detection still works.
func redactURLError(err error) error {
	var ue *url.Error
	if eris.As(err, &ue) {
		return ue.Err
	}
	return err
}
