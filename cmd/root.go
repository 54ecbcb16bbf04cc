package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/config"
)

// logFlags override the configured log settings when non-empty.
type logFlags struct {
	level  string
	format string
}

func (f logFlags) apply(c *config.LogConfig) error {
	if f.level != "" {
		c.Level = f.level
	}
	switch f.format {
	case "":
	case "json", "console":
		c.Format = f.format
	default:
		return eris.Errorf("formguard: unknown log format %q (want json or console)", f.format)
	}
	return nil
}

var (
	cfg      *config.Config
	logFlag  logFlags
	rootDesc = "Scores form submissions for abuse, challenges risky visitors with a captcha, " +
		"keeps deny lists and raises deduplicated alerts."
)

var rootCmd = &cobra.Command{
	Use:               "formguard",
	Short:             "Risk engine for web form submissions",
	Long:              rootDesc,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// loadConfig reads config, applies flag overrides and installs the global
// logger before any subcommand runs.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "formguard: load config")
	}
	if err := logFlag.apply(&c.Log); err != nil {
		return err
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "formguard: init logger")
	}
	cfg = c
	zap.L().Debug("formguard: config loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("log_level", c.Log.Level),
	)
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logFlag.level, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVar(&logFlag.format, "log-format", "", "override log.format (json or console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
