package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/engine"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/shellquote"
	"github.com/aidanlsb/pbipkit/internal/txn"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var (
	renameConfirm  bool
	renameManifest string
)

// renameOutput is the JSON payload of rename and fix-quoting.
type renameOutput struct {
	Preview bool                   `json:"preview"`
	Plan    *model.RenamePlan      `json:"plan"`
	Result  *txn.TransactionResult `json:"result,omitempty"`
}

var renameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Rename a table, column or measure across the project",
	Long: `Rename an identifier everywhere it is used: its declaration, DAX
expressions, M queries, relationships and report bindings.

Without --confirm the edits are only previewed. With --confirm they are
applied as one transaction; the transaction id can be passed to
'pbipkit rollback' to undo it.

Examples:
  pbipkit rename table "Sales Data" Sales
  pbipkit rename column Sales Amount "Net Amount" --confirm
  pbipkit rename measure Sales "Total Sales" Revenue --json
  pbipkit rename --manifest renames.yaml --confirm`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		if renameManifest == "" {
			return handleErrorMsg(ErrMissingArgument, "nothing to rename",
				"Use 'pbipkit rename table|column|measure ...' or --manifest <file>")
		}
		return runManifest(cmd.Context(), renameManifest, renameConfirm)
	},
}

var renameTableCmd = &cobra.Command{
	Use:   "table <old> <new>",
	Short: "Rename a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd.Context(), model.TableScope(), args[0], args[1])
	},
}

var renameColumnCmd = &cobra.Command{
	Use:   "column <table> <old> <new>",
	Short: "Rename a column of a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd.Context(), model.ColumnScope(args[0]), args[1], args[2])
	},
}

var renameMeasureCmd = &cobra.Command{
	Use:   "measure <table> <old> <new>",
	Short: "Rename a measure of a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd.Context(), model.MeasureScope(args[0]), args[1], args[2])
	},
}

func runRename(ctx context.Context, scope model.Scope, oldName, newName string) error {
	if preRunFailed() {
		return nil
	}
	eng, err := openEngine(ctx)
	if err != nil {
		return handleEngineError(err, "")
	}
	defer eng.Close()

	plan, err := eng.PlanRename(scope, oldName, newName)
	if err != nil {
		return handleEngineError(err, planSuggestion(err))
	}
	return previewOrApply(ctx, eng, plan, renameConfirm)
}

// previewOrApply shows plan and applies it when confirmed, either by flag
// or at an interactive prompt.
func previewOrApply(ctx context.Context, eng *engine.Engine, plan *model.RenamePlan, confirm bool) error {
	warnings := skippedWarnings(plan.Skipped)

	if plan.NoOp() {
		if isJSONOutput() {
			warnings = append(warnings, Warning{Code: WarnNoChanges, Message: "nothing to change"})
			outputSuccessWithWarnings(renameOutput{Preview: !confirm, Plan: plan}, warnings, &Meta{Count: 0})
			return nil
		}
		fmt.Fprintln(stdout, ui.Info("Nothing to change."))
		return nil
	}

	if !confirm {
		if isJSONOutput() {
			outputSuccessWithWarnings(renameOutput{Preview: true, Plan: plan}, warnings, &Meta{Count: len(plan.Occurrences)})
			return nil
		}
		printPreview(plan)
		if !promptForConfirm("Apply changes?") {
			fmt.Fprintln(stdout, ui.Hint("Preview only. Apply with: "+confirmCommand(plan)))
			return nil
		}
	}

	res, err := eng.Apply(ctx, plan)
	if err != nil {
		return handleEngineError(err, applySuggestion(err))
	}

	if isJSONOutput() {
		outputSuccessWithWarnings(renameOutput{Plan: plan, Result: res}, warnings, &Meta{Count: len(res.CommittedFiles)})
		return nil
	}
	fmt.Fprintln(stdout, ui.Successf("%s %s", appliedVerb(plan), ui.Count(len(res.CommittedFiles), "file", "files")))
	for _, w := range warnings {
		fmt.Fprintln(stdout, ui.Warningf("skipped %s: %s", ui.FilePath(w.File), w.Message))
	}
	fmt.Fprintln(stdout, ui.Hint("Undo with: pbipkit rollback "+res.ID))
	return nil
}

func printPreview(plan *model.RenamePlan) {
	md := ui.RenamePreview(plan)
	display := ui.NewDisplayContext()
	if stdout == io.Writer(os.Stdout) && display.IsTTY {
		if rendered, err := ui.RenderMarkdown(md, display.AvailableWidth(ui.MarkdownRenderMargin)); err == nil {
			fmt.Fprint(stdout, rendered)
			return
		}
	}
	fmt.Fprint(stdout, md)
}

// confirmCommand is the command line that applies plan.
func confirmCommand(plan *model.RenamePlan) string {
	args := []string{"pbipkit"}
	if plan.QuotingFix {
		args = append(args, "fix-quoting")
	} else {
		args = append(args, "rename", string(plan.Scope.Kind))
		if plan.Scope.Kind != model.KindTable {
			args = append(args, plan.Scope.Table)
		}
		args = append(args, plan.Old.Name, plan.New.Name)
	}
	if projectFlag != "" {
		args = append(args, "-p", projectFlag)
	}
	return shellquote.Join(append(args, "--confirm")...)
}

func appliedVerb(plan *model.RenamePlan) string {
	if plan.QuotingFix {
		return "Fixed quoting in"
	}
	return fmt.Sprintf("Renamed %s %s to %s in", plan.Scope.Kind, plan.Old.String(), plan.New.String())
}

func planSuggestion(err error) string {
	switch errorCode(err) {
	case ErrReference:
		return "Check the name with 'pbipkit refs' or 'pbipkit validate'"
	case ErrStructural:
		return "Pick a name that is not already declared"
	default:
		return ""
	}
}

func applySuggestion(err error) string {
	switch errorCode(err) {
	case ErrConcurrency:
		return "Wait for the other rename to finish and try again"
	case ErrValidationFailed:
		return "Run 'pbipkit validate --exhaustive' to see the findings"
	case ErrStructural:
		return "The project changed since the preview; run the rename again"
	default:
		return ""
	}
}

func init() {
	renameCmd.PersistentFlags().BoolVar(&renameConfirm, "confirm", false, "Apply the rename instead of previewing it")
	renameCmd.Flags().StringVar(&renameManifest, "manifest", "", "Apply the renames listed in a YAML file")
	renameCmd.AddCommand(renameTableCmd, renameColumnCmd, renameMeasureCmd)
	rootCmd.AddCommand(renameCmd)
}
