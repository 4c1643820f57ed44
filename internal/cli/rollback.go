package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/ui"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Restore the files changed by a transaction",
	Long: `Restore every file a transaction changed to its content before the
transaction, using the backup written when it was applied.

The id may be shortened to any unique prefix. See 'pbipkit history'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return handleEngineError(err, "")
		}
		defer eng.Close()

		files, err := eng.Rollback(cmd.Context(), args[0])
		if err != nil {
			suggestion := ""
			if errorCode(err) == ErrNotFound {
				suggestion = "List transactions with 'pbipkit history'"
			}
			return handleEngineError(err, suggestion)
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"id":       args[0],
				"restored": files,
			}, &Meta{Count: len(files)})
			return nil
		}
		fmt.Fprintln(stdout, ui.Successf("Rolled back %s %s", args[0], ui.Count(len(files), "file", "files")))
		for _, f := range files {
			fmt.Fprintln(stdout, "  "+ui.FilePath(f))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
