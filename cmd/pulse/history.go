package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/color-pulse/internal/cli"
	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/storage"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List outputs committed to the database",
		Long: `List the outputs committed with output.destination set to database, newest
first. Use 'pulse history show <id>' to see the rows of one output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.db.ListOutputs(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list outputs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No committed outputs yet."))
				return nil
			}

			table := cli.NewTable("OUTPUT", "COMMITTED", "SESSION", "OWNER", "SOURCE", "COLORS", "RULES")
			for _, r := range records {
				table.AddRow(
					storage.Location(r.ID),
					r.CommittedAt.Local().Format("2006-01-02 15:04"),
					r.SessionID,
					r.OwnerID,
					r.Source,
					fmt.Sprintf("%d", r.Stats.Total),
					fmt.Sprintf("%v", r.AppliedRuleIDs),
				)
			}
			return table.Render(out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "outputs to show (0 for all)")
	cmd.AddCommand(historyShowCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var preview previewFlags

	cmd := &cobra.Command{
		Use:   "show <output-id>",
		Short: "Show the rows of a committed output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.db.GetOutputRows(ctx, id)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(fmt.Sprintf("output %d not found", id), err)
				}
				return fmt.Errorf("failed to load output: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Output "+storage.Location(id)))
			fmt.Fprintln(out, cli.InfoStyle.Render(cli.FormatStats(ranking.Summarize(rows))))
			fmt.Fprintln(out)
			return cli.RenderColors(out, preview.rows(rows), preview.attrs, preview.limit)
		},
	}

	preview.register(cmd)
	return cmd
}
