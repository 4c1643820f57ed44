package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/check"
	"github.com/aidanlsb/pbipkit/internal/engine"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/ui"
	"github.com/aidanlsb/pbipkit/internal/watcher"
)

var watchDebounce time.Duration

// watchReport is one JSON line of watch output.
type watchReport struct {
	Changed  []string        `json:"changed,omitempty"`
	Findings []model.Finding `json:"findings"`
	Error    string          `json:"error,omitempty"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Validate the project again whenever its files change",
	Long: `Run a bounded validation, then watch the model and report folders and
validate again after each batch of changes. Stop with Ctrl-C.

With --json every run is written as one JSON envelope.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		eng, err := openEngine(ctx)
		if err != nil {
			return handleEngineError(err, "")
		}
		defer eng.Close()

		report := func(changed []string) {
			findings, err := revalidate(ctx, eng, changed)
			printWatchReport(changed, findings, err)
		}
		report(nil)

		w, err := watcher.New(watcher.Config{
			Root:          eng.Layout().Root,
			SkipDirs:      []string{eng.BackupDir()},
			DebounceDelay: watchDebounce,
			Logger:        logger,
			OnChange:      report,
		})
		if err != nil {
			return handleError(ErrInternal, err, "")
		}
		if !isJSONOutput() {
			fmt.Fprintln(stdout, ui.Hint("Watching "+eng.Layout().Root+" (Ctrl-C to stop)"))
		}
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return handleError(ErrInternal, err, "")
		}
		return nil
	},
}

// revalidate rediscovers the project when changed is non-empty and runs a
// bounded validation.
func revalidate(ctx context.Context, eng *engine.Engine, changed []string) ([]model.Finding, error) {
	if len(changed) > 0 {
		if err := eng.Reload(ctx); err != nil {
			return nil, err
		}
	}
	return eng.Validate(ctx, check.ModeBounded, 0)
}

func printWatchReport(changed []string, findings []model.Finding, err error) {
	if isJSONOutput() {
		r := watchReport{Changed: changed, Findings: findings}
		if r.Findings == nil {
			r.Findings = []model.Finding{}
		}
		if err != nil {
			r.Error = err.Error()
		}
		outputSuccess(r, &Meta{Count: len(findings)})
		return
	}

	stamp := ui.Hint(time.Now().Format("15:04:05"))
	switch {
	case len(changed) == 1:
		fmt.Fprintf(stdout, "%s %s changed\n", stamp, ui.FilePath(changed[0]))
	case len(changed) > 1:
		fmt.Fprintf(stdout, "%s %d files changed\n", stamp, len(changed))
	}
	if err != nil {
		fmt.Fprintln(stdout, ui.Error(err.Error()))
		return
	}
	if len(findings) == 0 {
		fmt.Fprintln(stdout, ui.Success("No issues found"))
		return
	}
	errCount, warnCount := 0, 0
	for _, f := range findings {
		fmt.Fprintln(stdout, ui.Finding(f))
		switch f.Severity {
		case model.SeverityError:
			errCount++
		case model.SeverityWarning:
			warnCount++
		}
	}
	fmt.Fprintln(stdout, ui.Header("Found "+ui.ErrorWarningCounts(errCount, warnCount)))
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "Quiet period before validating a batch of changes")
	rootCmd.AddCommand(watchCmd)
}
