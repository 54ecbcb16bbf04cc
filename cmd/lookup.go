package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/admin"
	"github.com/sells-group/formguard/internal/model"
)

var (
	lookupJSON  bool
	alertsSince int64
	alertsLimit int
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <site> <vid>",
	Short: "Show a visitor's current risk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.buildPipeline(cfg, nil, nil).QueryRisk(ctx, args[0], args[1], "")
		if err != nil {
			return eris.Wrap(err, "lookup")
		}
		if lookupJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), admin.FormatRisk(rep))
		return err
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recorded alerts",
	Long:  "Lists the newest alerts, or with --since the alerts recorded after that id in ascending order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		recs, err := env.Store.ListAlerts(ctx, alertsSince, alertsLimit)
		if err != nil {
			return eris.Wrap(err, "list alerts")
		}
		if len(recs) == 0 {
			zap.L().Info("no alerts recorded")
			return nil
		}
		formatAlerts(cmd.OutOrStdout(), recs)
		return nil
	},
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the report as JSON")
	alertsCmd.Flags().Int64Var(&alertsSince, "since", 0, "only alerts with a larger id")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", admin.DefaultAlertCount, "maximum alerts to list")
	rootCmd.AddCommand(lookupCmd, alertsCmd)
}

// formatAlerts writes a tabular listing of alert records to out.
func formatAlerts(out io.Writer, recs []model.AlertRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCREATED\tKIND\tSITE\tVISITOR\tSCORE\tREASONS")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t----\t-------\t-----\t-------")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.Kind,
			r.Site,
			r.VisitorID,
			r.Score,
			strings.Join(r.Reasons, ","),
		)
	}
	_ = w.Flush()
}
