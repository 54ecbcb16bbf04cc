// Package notify delivers plain-text alert messages to chat channels.
package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/config"
)

// Notifier sends one plain-text message to its destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Multi fans a message out to every notifier. It fails only when all fail.
type Multi []Notifier

// Name implements Notifier.
func (m Multi) Name() string { return "multi" }

// Send implements Notifier.
func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, eris.Wrapf(err, "notify: %s", n.Name()))
		}
	}
	if len(errs) > 0 && len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}

// Nop discards messages. It is used when no channel is configured.
type Nop struct{}

// Name implements Notifier.
func (Nop) Name() string { return "nop" }

// Send implements Notifier.
func (Nop) Send(context.Context, string) error { return nil }

// FromConfig builds a notifier for every channel that has credentials set.
func FromConfig(cfg config.NotifyConfig) (Notifier, error) {
	client := &http.Client{Timeout: time.Duration(max(cfg.TimeoutSecs, 1)) * time.Second}

	var out Multi
	if cfg.TelegramToken != "" {
		out = append(out, NewTelegram(cfg.TelegramBaseURL, cfg.TelegramToken, cfg.TelegramChatID, client))
	}
	if cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL, client))
	}
	if cfg.DiscordWebhookID != "" {
		d, err := NewDiscordWebhook(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	switch len(out) {
	case 0:
		return Nop{}, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}
