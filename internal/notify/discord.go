package notify

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/resilience"
)

// Discord caps message content at 2000 characters.
const discordMaxRunes = 2000

// webhookExecutor is the slice of *discordgo.Session used for webhooks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordWebhook posts messages to a Discord channel webhook.
type DiscordWebhook struct {
	exec  webhookExecutor
	id    string
	token string
}

// NewDiscordWebhook creates a Discord webhook notifier. Webhook execution
// needs no bot token, so the session is unauthenticated.
func NewDiscordWebhook(id, token string) (*DiscordWebhook, error) {
	if id == "" || token == "" {
		return nil, eris.New("discord: webhook id and token are required")
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, eris.Wrap(err, "discord: create session")
	}
	return &DiscordWebhook{exec: s, id: id, token: token}, nil
}

// Name implements Notifier.
func (d *DiscordWebhook) Name() string { return "discord" }

// Send implements Notifier.
func (d *DiscordWebhook) Send(ctx context.Context, text string) error {
	params := &discordgo.WebhookParams{
		Content:         truncateRunes(text, discordMaxRunes),
		Username:        "formguard",
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil {
			if herr := resilience.CheckHTTPStatus("discord", rest.Response.StatusCode, string(rest.ResponseBody)); herr != nil {
				return herr
			}
		}
		return eris.Wrap(err, "discord: execute webhook")
	}
	return nil
}
