package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/color-pulse/internal/cli"
)

func runCmd() *cobra.Command {
	var (
		sheetName string
		ruleArgs  []string
		noRules   bool
		noCommit  bool
		yes       bool
		preview   previewFlags
	)

	cmd := &cobra.Command{
		Use:   "run <workbook>",
		Short: "Import, filter and commit a workbook in one go",
		Long: `Run the whole workflow on a workbook: import it into a new session, apply
the active rules (or the ones named with --rules), show the result and commit it.

With --no-commit the session is left open for review with the session commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleIDs, err := parseIDs(ruleArgs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
			ctx, stop := interrupts.HandleInterrupts(cmd.Context())
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(out, cli.FormatTitle("Processing "+filepath.Base(args[0])))

			result, err := readWorkbook(ctx, cmd.ErrOrStderr(), args[0], sheetName, a.cfg.ImportSheet)
			if err != nil {
				return interrupted(interrupts, err)
			}
			reportRowErrors(out, result)

			sess, err := a.store.Create(ctx, a.cfg.Owner, filepath.Base(args[0]), result.Colors)
			if err != nil {
				return interrupted(interrupts, err)
			}
			interrupts.SetSession(sess.ID)
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d colors into session %s", len(result.Colors), sess.ID)))

			if !noRules {
				if len(ruleIDs) == 0 {
					if ruleIDs, err = activeRuleIDs(ctx, a); err != nil {
						return interrupted(interrupts, err)
					}
				}
				if err := applyRules(ctx, out, a, sess.ID, ruleIDs); err != nil {
					return interrupted(interrupts, err)
				}
			}

			id := sess.ID
			if sess, err = a.store.Get(ctx, id); err != nil {
				return interrupted(interrupts, sessionError(id, err))
			}
			if err := printSession(out, sess, preview); err != nil {
				return err
			}

			if noCommit {
				fmt.Fprintln(out, cli.FormatInfo("Session left open. Commit with: pulse session commit "+sess.ID))
				return nil
			}
			if len(sess.Current) == 0 {
				fmt.Fprintln(out, cli.FormatWarning("Nothing left to commit. Session left open."))
				return nil
			}

			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Commit %d colors?", len(sess.Current)))
				if err != nil {
					return interrupted(interrupts, err)
				}
				if !ok {
					fmt.Fprintln(out, cli.FormatInfo("Session left open. Commit with: pulse session commit "+sess.ID))
					return nil
				}
			}

			return interrupted(interrupts, commitSession(ctx, out, a, sess.ID))
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read (default: import.sheet or the first sheet)")
	cmd.Flags().StringSliceVar(&ruleArgs, "rules", nil, "rule ids to apply instead of the active rules")
	cmd.Flags().BoolVar(&noRules, "no-rules", false, "do not apply any rules")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "leave the session open instead of committing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "commit without asking")
	preview.register(cmd)
	cmd.MarkFlagsMutuallyExclusive("rules", "no-rules")
	return cmd
}

// interrupted replaces a cancellation error with a short notice once the
// interrupt handler has already told the user what happened.
func interrupted(h *cli.InterruptHandler, err error) error {
	if err == nil || !h.WasInterrupted() {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, cli.ErrInputCancelled) {
		return errors.New("interrupted")
	}
	return err
}
