package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/color-pulse/internal/cli"
	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/session"
	"github.com/Veraticus/color-pulse/internal/sheet"
)

const defaultPreviewRows = 20

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Review and publish a batch of colors",
		Long: `A session holds one imported batch of colors while it is reviewed. Rows can
be deleted by hand or excluded with rules, the batch can be reset to what was
imported, and finally it is committed to the configured output.

Sessions that sit idle longer than session.ttl expire.`,
	}

	cmd.AddCommand(importSessionCmd())
	cmd.AddCommand(showSessionCmd())
	cmd.AddCommand(deleteRowsCmd())
	cmd.AddCommand(applyRulesCmd())
	cmd.AddCommand(resetSessionCmd())
	cmd.AddCommand(commitSessionCmd())
	cmd.AddCommand(listSessionsCmd())
	cmd.AddCommand(closeSessionCmd())
	cmd.AddCommand(cleanupSessionsCmd())

	return cmd
}

// previewFlags controls how much of a session is printed.
type previewFlags struct {
	attrs   []string
	limit   int
	parents bool
}

func (p *previewFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&p.limit, "limit", "n", defaultPreviewRows, "rows to show (0 for all)")
	cmd.Flags().StringSliceVar(&p.attrs, "attrs", []string{"ticker", "source"}, "extra columns to show")
	cmd.Flags().BoolVar(&p.parents, "parents", false, "only show the best color of each security")
}

// rows applies the preview filters to ranked rows.
func (p previewFlags) rows(rows []model.RankedColor) []model.RankedColor {
	if p.parents {
		return ranking.Parents(rows)
	}
	return rows
}

func importSessionCmd() *cobra.Command {
	var (
		sheetName string
		preview   previewFlags
	)

	cmd := &cobra.Command{
		Use:   "import <workbook>",
		Short: "Start a session from an Excel workbook",
		Long: `Read colors from a workbook, rank them and open a new session.

The sheet needs CUSIP, DATE, RANK and PX columns. MESSAGE_ID is optional and
every other column is kept as an attribute that rules can match on. Rows that
cannot be read, including ranks below 1 and missing prices, are reported and
skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			result, err := readWorkbook(ctx, cmd.ErrOrStderr(), args[0], sheetName, a.cfg.ImportSheet)
			if err != nil {
				return err
			}
			reportRowErrors(out, result)

			sess, err := a.store.Create(ctx, a.cfg.Owner, filepath.Base(args[0]), result.Colors)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d colors into session %s", len(result.Colors), sess.ID)))
			return printSession(out, sess, preview)
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read (default: import.sheet or the first sheet)")
	preview.register(cmd)
	return cmd
}

func showSessionCmd() *cobra.Command {
	var preview previewFlags

	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Show the current rows of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.store.Get(ctx, args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			return printSession(cmd.OutOrStdout(), sess, preview)
		},
	}

	preview.register(cmd)
	return cmd
}

func deleteRowsCmd() *cobra.Command {
	var preview previewFlags

	cmd := &cobra.Command{
		Use:   "delete <session> <row-id>...",
		Short: "Remove rows from a session",
		Long: `Remove rows by MESSAGE_ID. Groups are re-ranked afterwards, so deleting a
parent promotes the next color of its security. Unknown ids are ignored.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			before, err := a.store.Get(ctx, id)
			if err != nil {
				return sessionError(id, err)
			}

			rows, err := a.store.DeleteRows(ctx, id, args[1:])
			if err != nil {
				return sessionError(id, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Removed %d rows, %d remain", len(before.Current)-len(rows), len(rows))))

			sess, err := a.store.Get(ctx, id)
			if err != nil {
				return sessionError(id, err)
			}
			return printSession(out, sess, preview)
		},
	}

	preview.register(cmd)
	return cmd
}

func applyRulesCmd() *cobra.Command {
	var (
		ruleArgs []string
		active   bool
		preview  previewFlags
	)

	cmd := &cobra.Command{
		Use:   "apply <session>",
		Short: "Exclude the rows matched by rules",
		Long: `Apply rules to a session. Every row matched by any of the rules is removed.
Applying the same rule again changes nothing.

Pass rule ids with --rules, or use --active to apply every active rule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ruleIDs, err := parseIDs(ruleArgs)
			if err != nil {
				return err
			}
			if len(ruleIDs) == 0 && !active {
				return common.NewUserError("pass --rules or --active", nil)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if active {
				activeIDs, err := activeRuleIDs(ctx, a)
				if err != nil {
					return err
				}
				ruleIDs = append(ruleIDs, activeIDs...)
			}

			out := cmd.OutOrStdout()
			if err := applyRules(ctx, out, a, args[0], ruleIDs); err != nil {
				return err
			}

			sess, err := a.store.Get(ctx, args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			return printSession(out, sess, preview)
		},
	}

	cmd.Flags().StringSliceVar(&ruleArgs, "rules", nil, "rule ids to apply, e.g. 1,3")
	cmd.Flags().BoolVar(&active, "active", false, "apply every active rule")
	preview.register(cmd)
	return cmd
}

func resetSessionCmd() *cobra.Command {
	var preview previewFlags

	cmd := &cobra.Command{
		Use:   "reset <session>",
		Short: "Undo every delete and rule application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.Reset(ctx, args[0])
			if err != nil {
				return sessionError(args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Restored %d imported colors", len(rows))))

			sess, err := a.store.Get(ctx, args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			return printSession(out, sess, preview)
		},
	}

	preview.register(cmd)
	return cmd
}

func commitSessionCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "commit <session>",
		Short: "Publish the session's rows and close it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			out := cmd.OutOrStdout()
			if !yes {
				sess, err := a.store.Get(ctx, id)
				if err != nil {
					return sessionError(id, err)
				}
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Commit %d colors from session %s?", len(sess.Current), id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.FormatInfo("Session left open."))
					return nil
				}
			}

			return commitSession(ctx, out, a, id)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func listSessionsCmd() *cobra.Command {
	var (
		all      bool
		openOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			owner := a.cfg.Owner
			if all {
				owner = ""
			}
			summaries, err := a.store.List(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if openOnly {
				open := summaries[:0]
				for _, s := range summaries {
					if s.Status == session.StatusOpen {
						open = append(open, s)
					}
				}
				summaries = open
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No sessions found. Use 'pulse session import' to start one."))
				return nil
			}
			return cli.RenderSessions(out, summaries)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "show every owner's sessions")
	cmd.Flags().BoolVar(&openOnly, "open", false, "only show open sessions")
	return cmd
}

func closeSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <session>",
		Short: "Discard a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Close(ctx, args[0]); err != nil {
				return sessionError(args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Closed session "+args[0]))
			return nil
		},
	}
}

func cleanupSessionsCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire idle sessions and purge old ones",
		Long: `Expire open sessions idle longer than session.ttl and remove committed or
expired sessions older than session.retention.

With --watch the cleanup repeats every session.janitor_interval until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.store.LoadAll(ctx); err != nil {
				return fmt.Errorf("failed to load sessions: %w", err)
			}
			expired, purged := a.store.ExpireIdle(ctx, time.Now())

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(
				fmt.Sprintf("Expired %d idle sessions, purged %d old sessions", expired, purged)))
			if !watch {
				return nil
			}

			fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Cleaning up every %s, press Ctrl+C to stop", a.cfg.JanitorInterval)))
			a.store.StartJanitor(ctx, a.cfg.JanitorInterval)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and clean up periodically")
	return cmd
}

// readWorkbook imports a workbook with a progress bar on w. The flag value wins
// over the configured sheet.
func readWorkbook(ctx context.Context, w io.Writer, path, sheetFlag, sheetConfig string) (*sheet.ImportResult, error) {
	sheetName := sheetFlag
	if sheetName == "" {
		sheetName = sheetConfig
	}

	reader := sheet.NewReader(sheetName)
	reader.OnRow = cli.NewProgress(w, "Reading colors...").Update

	result, err := reader.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, common.ErrMissingColumns) {
			return nil, common.NewUserError("the workbook is missing required columns", err)
		}
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	return result, nil
}

func reportRowErrors(out io.Writer, result *sheet.ImportResult) {
	if result.Skipped() == 0 {
		return
	}
	fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Skipped %d of %d rows:", result.Skipped(), result.TotalRows)))
	for _, rowErr := range result.Errors {
		fmt.Fprintln(out, cli.SubtleStyle.Render("  "+rowErr.Error()))
	}
}

// activeRuleIDs returns the ids of every active rule.
func activeRuleIDs(ctx context.Context, a *app) ([]int, error) {
	active, err := a.db.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	ids := make([]int, len(active))
	for i, r := range active {
		ids[i] = r.ID
	}
	return ids, nil
}

// applyRules applies the rules to a session, reports what each excluded and
// records the application in the rule audit log.
func applyRules(ctx context.Context, out io.Writer, a *app, id string, ruleIDs []int) error {
	if len(ruleIDs) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No rules to apply."))
		return nil
	}

	outcome, err := a.store.ApplyRules(ctx, id, ruleIDs)
	if err != nil {
		return sessionError(id, err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Excluded %d rows, %d remain", outcome.ExcludedCount, len(outcome.Rows))))

	credited := make([]int, 0, len(outcome.PerRuleExcluded))
	for ruleID := range outcome.PerRuleExcluded {
		credited = append(credited, ruleID)
	}
	sort.Ints(credited)
	for _, ruleID := range credited {
		fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("  rule %d: %d rows", ruleID, outcome.PerRuleExcluded[ruleID])))
	}

	if err := a.db.RecordRuleApplication(ctx, id, outcome.PerRuleExcluded, a.cfg.Owner); err != nil {
		slog.Warn("Failed to record rule application", "session_id", id, "error", err)
	}
	return nil
}

// commitSession commits a session and reports where the output went.
func commitSession(ctx context.Context, out io.Writer, a *app, id string) error {
	snap, err := a.store.Commit(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNothingToSave) {
			return common.NewUserError("every row was removed, there is nothing to commit", err)
		}
		return sessionError(id, err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Committed %d colors to %s", len(snap.Rows), snap.Location)))
	fmt.Fprintln(out, cli.SubtleStyle.Render(cli.FormatStats(snap.Stats)))
	return nil
}

// sessionError turns session workflow errors into messages for the user.
func sessionError(id string, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return common.NewUserError(fmt.Sprintf("session %s not found", id), err)
	case errors.Is(err, common.ErrInvalidState):
		return common.NewUserError(fmt.Sprintf("session %s is no longer open", id), err)
	default:
		return err
	}
}

func printSession(out io.Writer, sess *session.Session, preview previewFlags) error {
	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Session %s", sess.ID)))
	fmt.Fprintf(out, "%s  %s  %s\n",
		sess.Source,
		sess.Status,
		cli.SubtleStyle.Render(fmt.Sprintf("owner %s, updated %s", sess.OwnerID, sess.UpdatedAt.Local().Format("2006-01-02 15:04"))))
	if sess.Location != "" {
		fmt.Fprintln(out, cli.FormatInfo("Output: "+sess.Location))
	}
	if len(sess.DeletedRowIDs) > 0 || len(sess.AppliedRuleIDs) > 0 {
		fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("%d rows removed, rules applied: %v", len(sess.DeletedRowIDs), sess.AppliedRuleIDs)))
	}

	rows := sess.Rows()
	if len(rows) == 0 {
		if sess.Status == session.StatusOpen {
			fmt.Fprintln(out, cli.FormatWarning("Every row has been removed. Use 'pulse session reset' to start over."))
		}
		return nil
	}

	fmt.Fprintln(out, cli.InfoStyle.Render(cli.FormatStats(sess.Stats())))
	fmt.Fprintln(out)
	return cli.RenderColors(out, preview.rows(rows), preview.attrs, preview.limit)
}
