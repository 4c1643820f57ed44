// Package cli implements the command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/config"
	"github.com/aidanlsb/pbipkit/internal/engine"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var (
	// Global flags
	projectFlag string
	configPath  string
	verbose     bool

	// Resolved values
	resolvedProject string
	cfg             *config.Config
	logger          *slog.Logger

	// stdout receives command output; tests replace it.
	stdout io.Writer = os.Stdout
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pbipkit",
	Short: "Rename and validate identifiers in Power BI projects",
	Long: `pbipkit renames tables, columns and measures across a Power BI project
(PBIP) folder: TMDL model files, DAX and M expressions and report JSON.

Every rename is previewed first, applied as a single transaction with a
backup, and can be rolled back later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "completion", "help", "version":
			return nil
		}

		cfg = nil
		logger = newLogger(verbose)

		root := projectFlag
		if root == "" {
			root = "."
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return handleErrorMsg(ErrProjectNotFound, fmt.Sprintf("project not found: %s", abs),
				"Pass the folder that holds the .pbip file with --project")
		}
		resolvedProject = abs

		globalPath := configPath
		if isConfigInit(cmd) && globalPath != "" && !fileExists(globalPath) {
			// config init --global --config <path> creates the file.
			globalPath = ""
		}
		cfg, err = config.Load(globalPath, resolvedProject)
		if err != nil {
			return handleError(ErrConfigInvalid, err, "Fix or remove the config file")
		}
		ui.ConfigureTheme(cfg.UI.Accent)
		ui.ConfigureMarkdownCodeTheme(cfg.UI.CodeTheme)
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project root (defaults to the current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the global config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (for agent/script use)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openEngine indexes the resolved project. The caller closes it.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	return engine.Open(ctx, resolvedProject, engine.Options{Logger: logger, Config: cfg})
}

func isConfigInit(cmd *cobra.Command) bool {
	return cmd.Name() == "init" && cmd.HasParent() && cmd.Parent().Name() == "config"
}

// PersistentPreRunE may have already reported an error in JSON mode and
// returned nil; commands check this before doing any work.
func preRunFailed() bool {
	return cfg == nil
}
