package cli

import (
	"github.com/spf13/cobra"
)

var fixQuotingConfirm bool

var fixQuotingCmd = &cobra.Command{
	Use:   "fix-quoting",
	Short: "Quote DAX table references that need quoting",
	Long: `Wrap every bare DAX table reference whose name needs quoting (spaces,
reserved words, leading digits) in single quotes.

Previews by default; --confirm applies the edits as one transaction.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return handleEngineError(err, "")
		}
		defer eng.Close()

		plan, err := eng.PlanQuotingFix()
		if err != nil {
			return handleEngineError(err, "")
		}
		return previewOrApply(cmd.Context(), eng, plan, fixQuotingConfirm)
	},
}

func init() {
	fixQuotingCmd.Flags().BoolVar(&fixQuotingConfirm, "confirm", false, "Apply the edits instead of previewing them")
	rootCmd.AddCommand(fixQuotingCmd)
}
