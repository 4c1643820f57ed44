package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/txn"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var historyLimit int

const shortIDLen = 8

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List applied transactions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return handleEngineError(err, "")
		}
		defer eng.Close()

		entries, err := eng.History(historyLimit)
		if err != nil {
			return handleEngineError(err, "")
		}

		if isJSONOutput() {
			if entries == nil {
				entries = []txn.Entry{}
			}
			outputSuccess(entries, &Meta{Count: len(entries)})
			return nil
		}

		if len(entries) == 0 {
			fmt.Fprintln(stdout, ui.Info("No transactions recorded."))
			return nil
		}
		t := ui.NewTable(4)
		for _, e := range entries {
			status := ui.Count(len(e.Files), "file", "files")
			if e.RolledBack() {
				status = ui.Hint("rolled back")
			}
			t.AddRow(ui.Accent.Render(shortID(e.ID)), ui.Hint(e.CreatedAt.Local().Format("2006-01-02 15:04:05")), e.Label(), status)
		}
		fmt.Fprint(stdout, t.String())
		return nil
	},
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of transactions to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
