package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/formguard/internal/admin"
	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/store"
)

var blockedLimit int

var blockCmd = &cobra.Command{
	Use:   "block <vid|ip|phone> <value> [reason...]",
	Short: "Deny a visitor, IP or phone",
	Long:  "Adds a block entry. Blocking a phone also blocks every visitor that submitted it.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := admin.FromArgs(admin.VerbBlock, args)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Blocks.Block(ctx, c.Target(), c.Reason)
		if err != nil {
			return eris.Wrap(err, "block")
		}
		formatBlockResult(cmd.OutOrStdout(), c, res)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <vid|ip|phone> <value>",
	Short: "Remove a block entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := admin.FromArgs(admin.VerbUnblock, args)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Blocks.Unblock(ctx, c.Target())
		if err != nil {
			return eris.Wrap(err, "unblock")
		}
		if n == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s was not blocked\n", c.Kind, c.Value)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s %s\n", c.Kind, c.Value)
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List block entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, cfg, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Blocks.Snapshot(ctx, blockedLimit)
		if err != nil {
			return eris.Wrap(err, "list blocks")
		}
		formatBlockEntries(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	blockedCmd.Flags().IntVar(&blockedLimit, "limit", store.DefaultListLimit, "entries per kind")
	rootCmd.AddCommand(blockCmd, unblockCmd, blockedCmd)
}

func formatBlockResult(out io.Writer, c admin.Command, res *block.Result) {
	value := c.Value
	switch c.Kind {
	case model.BlockVisitor:
		value = res.Target.VisitorID
	case model.BlockIP:
		value = res.Target.IP
	case model.BlockPhone:
		value = res.Target.Phone
	}
	_, _ = fmt.Fprintf(out, "blocked %s %s\n", c.Kind, value)
	for _, vid := range res.Derived {
		_, _ = fmt.Fprintf(out, "  also blocked visitor %s\n", vid)
	}
}

// formatBlockEntries writes a tabular listing of every kind to out.
func formatBlockEntries(out io.Writer, snap map[model.BlockKind][]model.BlockEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tVALUE\tCREATED\tREASON")
	_, _ = fmt.Fprintln(w, "----\t-----\t-------\t------")
	for _, kind := range []model.BlockKind{model.BlockVisitor, model.BlockIP, model.BlockPhone} {
		for _, e := range snap[kind] {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.Kind, e.Value, e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Reason)
		}
	}
	_ = w.Flush()
}
