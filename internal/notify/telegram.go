package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/formguard/internal/resilience"
)

// DefaultTelegramBaseURL is the public Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// Telegram limits a message to 4096 characters.
const telegramMaxRunes = 4096

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegram creates a Telegram notifier. An empty baseURL uses the public
// Bot API.
func NewTelegram(baseURL, token, chatID string, client *http.Client) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  client,
	}
}

// Name implements Notifier.
func (t *Telegram) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncateRunes(text, telegramMaxRunes),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return eris.Wrap(err, "telegram: marshal message")
	}

	url := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "telegram: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return eris.Wrap(redactURLError(err), "telegram: send")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	description := gjson.GetBytes(body, "description").String()
	if err := resilience.CheckHTTPStatus("telegram", resp.StatusCode, description); err != nil {
		return err
	}
	if ok := gjson.GetBytes(body, "ok"); ok.Exists() && !ok.Bool() {
		return eris.Errorf("telegram: api error: %s", description)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
