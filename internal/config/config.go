package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Admin     AdminConfig     `yaml:"admin" mapstructure:"admin"`
	Risk      RiskConfig      `yaml:"risk" mapstructure:"risk"`
	Captcha   CaptchaConfig   `yaml:"captcha" mapstructure:"captcha"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Discord   DiscordConfig   `yaml:"discord" mapstructure:"discord"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AdminConfig holds administrative credentials.
type AdminConfig struct {
	Key            string   `yaml:"key" mapstructure:"key"`
	DiscordUserIDs []string `yaml:"discord_user_ids" mapstructure:"discord_user_ids"`
}

// RiskConfig holds scorer weights, thresholds and policy switches.
type RiskConfig struct {
	WindowHours           int  `yaml:"window_hours" mapstructure:"window_hours"`
	ChallengeThreshold    int  `yaml:"challenge_threshold" mapstructure:"challenge_threshold"`
	AlertThreshold        int  `yaml:"alert_threshold" mapstructure:"alert_threshold"`
	RepeatForcesChallenge bool `yaml:"repeat_forces_challenge" mapstructure:"repeat_forces_challenge"`

	HighVolumeThreshold  int `yaml:"high_volume_threshold" mapstructure:"high_volume_threshold"`
	SharedPhoneThreshold int `yaml:"shared_phone_threshold" mapstructure:"shared_phone_threshold"`
	FastSubmitMS         int `yaml:"fast_submit_ms" mapstructure:"fast_submit_ms"`
	NoInteractionMS      int `yaml:"no_interaction_ms" mapstructure:"no_interaction_ms"`
	PasteMaxKeyDowns     int `yaml:"paste_max_keydowns" mapstructure:"paste_max_keydowns"`

	Weights RiskWeights `yaml:"weights" mapstructure:"weights"`
}

// RiskWeights are the points each reason contributes to a score.
type RiskWeights struct {
	RepeatSubmission int `yaml:"repeat_submission" mapstructure:"repeat_submission"`
	PhoneChanged     int `yaml:"phone_changed" mapstructure:"phone_changed"`
	NameChanged      int `yaml:"name_changed" mapstructure:"name_changed"`
	HighVolume       int `yaml:"high_volume" mapstructure:"high_volume"`
	SharedPhone      int `yaml:"shared_phone" mapstructure:"shared_phone"`
	TooFast          int `yaml:"too_fast" mapstructure:"too_fast"`
	NoInteraction    int `yaml:"no_interaction" mapstructure:"no_interaction"`
	PastedPhone      int `yaml:"pasted_phone" mapstructure:"pasted_phone"`
}

// CaptchaConfig configures the arithmetic challenge.
type CaptchaConfig struct {
	Secret  string `yaml:"secret" mapstructure:"secret"`
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// AlertConfig configures alert deduplication.
type AlertConfig struct {
	CooldownSecs int    `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Backend      string `yaml:"backend" mapstructure:"backend"`
	RedisURL     string `yaml:"redis_url" mapstructure:"redis_url"`
	SignalAlerts bool   `yaml:"signal_alerts" mapstructure:"signal_alerts"`
}

// NotifyConfig configures outbound notification channels. Every channel
// with credentials set is used.
type NotifyConfig struct {
	TelegramToken       string  `yaml:"telegram_token" mapstructure:"telegram_token"`
	TelegramChatID      string  `yaml:"telegram_chat_id" mapstructure:"telegram_chat_id"`
	TelegramBaseURL     string  `yaml:"telegram_base_url" mapstructure:"telegram_base_url"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DiscordWebhookID    string  `yaml:"discord_webhook_id" mapstructure:"discord_webhook_id"`
	DiscordWebhookToken string  `yaml:"discord_webhook_token" mapstructure:"discord_webhook_token"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec          float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	QueueSize           int     `yaml:"queue_size" mapstructure:"queue_size"`
	Retries             int     `yaml:"retries" mapstructure:"retries"`
}

// DiscordConfig configures the inbound admin command bot.
type DiscordConfig struct {
	BotToken         string `yaml:"bot_token" mapstructure:"bot_token"`
	CommandChannelID string `yaml:"command_channel_id" mapstructure:"command_channel_id"`
}

// RetentionConfig configures the history sweep.
type RetentionConfig struct {
	HorizonDays       int `yaml:"horizon_days" mapstructure:"horizon_days"`
	SweepIntervalMins int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORMGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "formguard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trust_proxy_headers", true)

	v.SetDefault("risk.window_hours", 24)
	v.SetDefault("risk.challenge_threshold", 4)
	v.SetDefault("risk.alert_threshold", 4)
	v.SetDefault("risk.repeat_forces_challenge", true)
	v.SetDefault("risk.high_volume_threshold", 3)
	v.SetDefault("risk.shared_phone_threshold", 3)
	v.SetDefault("risk.fast_submit_ms", 6000)
	v.SetDefault("risk.no_interaction_ms", 12000)
	v.SetDefault("risk.paste_max_keydowns", 3)
	v.SetDefault("risk.weights.repeat_submission", 2)
	v.SetDefault("risk.weights.phone_changed", 2)
	v.SetDefault("risk.weights.name_changed", 1)
	v.SetDefault("risk.weights.high_volume", 2)
	v.SetDefault("risk.weights.shared_phone", 3)
	v.SetDefault("risk.weights.too_fast", 2)
	v.SetDefault("risk.weights.no_interaction", 2)
	v.SetDefault("risk.weights.pasted_phone", 2)

	v.SetDefault("captcha.ttl_secs", 300)

	v.SetDefault("alert.cooldown_secs", 600)
	v.SetDefault("alert.backend", "store")
	v.SetDefault("alert.signal_alerts", true)

	v.SetDefault("notify.telegram_base_url", "https://api.telegram.org")
	v.SetDefault("notify.timeout_secs", 5)
	v.SetDefault("notify.rate_per_sec", 1.0)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.retries", 2)

	v.SetDefault("retention.horizon_days", 90)
	v.SetDefault("retention.sweep_interval_mins", 60)
}

// Validate checks the configuration for values the given mode cannot run
// with. Modes: "serve" (HTTP server and background workers) and "admin"
// (one-shot CLI commands against the store).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "admin":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	if c.Risk.WindowHours <= 0 {
		errs = append(errs, "risk.window_hours must be > 0")
	}
	if c.Risk.ChallengeThreshold <= 0 {
		errs = append(errs, "risk.challenge_threshold must be > 0")
	}
	if c.Risk.AlertThreshold <= 0 {
		errs = append(errs, "risk.alert_threshold must be > 0")
	}
	weights := map[string]int{
		"repeat_submission": c.Risk.Weights.RepeatSubmission,
		"phone_changed":     c.Risk.Weights.PhoneChanged,
		"name_changed":      c.Risk.Weights.NameChanged,
		"high_volume":       c.Risk.Weights.HighVolume,
		"shared_phone":      c.Risk.Weights.SharedPhone,
		"too_fast":          c.Risk.Weights.TooFast,
		"no_interaction":    c.Risk.Weights.NoInteraction,
		"pasted_phone":      c.Risk.Weights.PastedPhone,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, "risk.weights."+name+" must be >= 0")
		}
	}

	if c.Captcha.TTLSecs <= 0 {
		errs = append(errs, "captcha.ttl_secs must be > 0")
	}

	switch c.Alert.Backend {
	case "store":
	case "redis":
		if c.Alert.RedisURL == "" {
			errs = append(errs, "alert.redis_url is required for the redis backend")
		}
	default:
		errs = append(errs, "alert.backend must be store or redis")
	}
	if c.Alert.CooldownSecs < 0 {
		errs = append(errs, "alert.cooldown_secs must be >= 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify.telegram_token and notify.telegram_chat_id must be set together")
	}
	if (c.Notify.DiscordWebhookID == "") != (c.Notify.DiscordWebhookToken == "") {
		errs = append(errs, "notify.discord_webhook_id and notify.discord_webhook_token must be set together")
	}

	if c.Retention.HorizonDays < 0 {
		errs = append(errs, "retention.horizon_days must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
