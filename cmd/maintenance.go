package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/formguard/internal/monitoring"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context(), cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store.Driver)
		return err
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired history, challenges and dedupe rows once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		sw := monitoring.NewSweeper(env.Store, cfg.Retention, time.Duration(cfg.Alert.CooldownSecs)*time.Second, nil)
		res, err := sw.SweepOnce(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "swept %d submissions, %d aggregates, %d challenges, %d dedupe rows, %d alerts\n",
			res.Submissions, res.Aggregates, res.Challenges, res.Dedupe, res.Alerts)
		return err
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, sweepCmd)
}
