package main

import (
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/formguard/internal/config"
)

const redactedValue = "[redacted]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(redactConfig(*cfg))
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// redactConfig returns a copy of c with credentials masked.
func redactConfig(c config.Config) config.Config {
	c.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	c.Alert.RedisURL = redactURL(c.Alert.RedisURL)
	c.Admin.Key = redactSecret(c.Admin.Key)
	c.Captcha.Secret = redactSecret(c.Captcha.Secret)
	c.Notify.TelegramToken = redactSecret(c.Notify.TelegramToken)
	c.Notify.DiscordWebhookToken = redactSecret(c.Notify.DiscordWebhookToken)
	c.Notify.WebhookURL = redactSecret(c.Notify.WebhookURL)
	c.Discord.BotToken = redactSecret(c.Discord.BotToken)
	c.Admin.DiscordUserIDs = append([]string(nil), c.Admin.DiscordUserIDs...)
	return c
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// redactURL masks the password of a URL and leaves plain paths alone.
func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return redactedValue
	}
	if u.User == nil {
		return s
	}
	return u.Redacted()
}
