package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/check"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var (
	validateMaxErrors  int
	validateExhaustive bool
)

type validateOutput struct {
	Mode     string          `json:"mode"`
	Findings []model.Finding `json:"findings"`
	// Truncated is set when a bounded run stopped at its budget.
	Truncated bool `json:"truncated,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the project for broken references and quoting problems",
	Long: `Check every model and report file for unbalanced delimiters, table
names that need quoting, references to missing tables or columns, duplicate
declarations and unreadable files.

By default the run stops after --max-errors findings; --exhaustive reports
everything. Exits non-zero when any error-severity finding is reported.`,
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

		mode := check.ModeBounded
		if validateExhaustive {
			mode = check.ModeExhaustive
		}
		findings, err := eng.Validate(cmd.Context(), mode, validateMaxErrors)
		if err != nil {
			return handleEngineError(err, "")
		}

		errCount, warnCount := 0, 0
		for _, f := range findings {
			switch f.Severity {
			case model.SeverityError:
				errCount++
			case model.SeverityWarning:
				warnCount++
			}
		}
		truncated := mode == check.ModeBounded && len(findings) >= validateBudget()

		if isJSONOutput() {
			if findings == nil {
				findings = []model.Finding{}
			}
			outputSuccess(validateOutput{Mode: mode.String(), Findings: findings, Truncated: truncated},
				&Meta{Count: len(findings), Errors: errCount, Warnings: warnCount})
			return nil
		}

		if len(findings) == 0 {
			fmt.Fprintln(stdout, ui.Success("No issues found"))
			return nil
		}
		for _, f := range findings {
			fmt.Fprintln(stdout, ui.Finding(f))
		}
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, ui.Header("Found "+ui.ErrorWarningCounts(errCount, warnCount)))
		if truncated {
			fmt.Fprintln(stdout, ui.Hint(fmt.Sprintf("Stopped after %d findings; use --exhaustive to see all.", len(findings))))
		}
		if warnCount > 0 && hasQuotingFindings(findings) {
			fmt.Fprintln(stdout, ui.Hint("Quote table names automatically with: pbipkit fix-quoting"))
		}
		if errCount > 0 {
			return fmt.Errorf("validation failed with %d %s", errCount, pluralize("error", errCount))
		}
		return nil
	},
}

// validateBudget mirrors how the engine picks the bounded budget.
func validateBudget() int {
	switch {
	case validateMaxErrors > 0:
		return validateMaxErrors
	case cfg != nil && cfg.MaxErrors > 0:
		return cfg.MaxErrors
	default:
		return check.DefaultMaxErrors
	}
}

func hasQuotingFindings(findings []model.Finding) bool {
	for _, f := range findings {
		if f.Code == model.CodeUnquotedTableInDAX {
			return true
		}
	}
	return false
}

func pluralize(singular string, n int) string {
	if n == 1 {
		return singular
	}
	return singular + "s"
}

func init() {
	validateCmd.Flags().IntVar(&validateMaxErrors, "max-errors", 0, "Stop after this many findings (default from config, then 50)")
	validateCmd.Flags().BoolVar(&validateExhaustive, "exhaustive", false, "Report every finding")
	rootCmd.AddCommand(validateCmd)
}
