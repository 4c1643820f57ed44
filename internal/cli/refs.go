package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Show where a table, column or measure is used",
	Long: `List every place an identifier is declared or referenced, the same
places a rename would edit.

Examples:
  pbipkit refs table "Sales Data"
  pbipkit refs column Sales Amount --json`,
}

var refsTableCmd = &cobra.Command{
	Use:   "table <name>",
	Short: "Show where a table is used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefs(cmd, model.TableScope(), args[0])
	},
}

var refsColumnCmd = &cobra.Command{
	Use:   "column <table> <name>",
	Short: "Show where a column is used",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefs(cmd, model.ColumnScope(args[0]), args[1])
	},
}

var refsMeasureCmd = &cobra.Command{
	Use:   "measure <table> <name>",
	Short: "Show where a measure is used",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefs(cmd, model.MeasureScope(args[0]), args[1])
	},
}

func runRefs(cmd *cobra.Command, scope model.Scope, name string) error {
	if preRunFailed() {
		return nil
	}
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return handleEngineError(err, "")
	}
	defer eng.Close()

	occs, err := eng.References(scope, name)
	if err != nil {
		return handleEngineError(err, planSuggestion(err))
	}

	if isJSONOutput() {
		outputSuccess(occs, &Meta{Count: len(occs)})
		return nil
	}
	t := ui.NewTable(3)
	for _, occ := range occs {
		t.AddRow(ui.Location(occ.File, occ.Line, occ.Column), ui.Hint(string(occ.Dialect)), occ.Text)
	}
	fmt.Fprint(stdout, t.String())
	fmt.Fprintln(stdout, ui.Hint(fmt.Sprintf("%d %s", len(occs), pluralize("occurrence", len(occs)))))
	return nil
}

func init() {
	refsCmd.AddCommand(refsTableCmd, refsColumnCmd, refsMeasureCmd)
	rootCmd.AddCommand(refsCmd)
}
