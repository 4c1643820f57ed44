package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/aidanlsb/pbipkit/internal/config"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

var configInitGlobal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage pbipkit configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented config file",
	Long: `Write a config file with every setting documented and commented out.

By default the file is created in the project (.pbipkit/config.toml).
With --global it goes to the global location, or to --config if given.
An existing file is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		path := config.ProjectPath(resolvedProject)
		if configInitGlobal {
			path = configPath
			if path == "" {
				path = config.DefaultPath()
			}
		}

		created, err := config.CreateDefault(path)
		if err != nil {
			return handleError(ErrInternal, err, "")
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"path": path, "created": created}, nil)
			return nil
		}
		if created {
			fmt.Fprintln(stdout, ui.Successf("Created %s", ui.FilePath(path)))
		} else {
			fmt.Fprintln(stdout, ui.Info("Config already exists at "+ui.FilePath(path)))
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if preRunFailed() {
			return nil
		}
		globalPath := configPath
		if globalPath == "" {
			globalPath = config.DefaultPath()
		}
		projectPath := config.ProjectPath(resolvedProject)

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"global_path":  globalPath,
				"global":       fileExists(globalPath),
				"project_path": projectPath,
				"project":      fileExists(projectPath),
				"backup_path":  cfg.BackupPath(resolvedProject),
				"config":       cfg,
			}, nil)
			return nil
		}

		fmt.Fprintln(stdout, ui.Hint("# global:  "+describePath(globalPath)))
		fmt.Fprintln(stdout, ui.Hint("# project: "+describePath(projectPath)))
		enc := toml.NewEncoder(stdout)
		enc.Indent = ""
		if err := enc.Encode(cfg); err != nil {
			return handleError(ErrInternal, err, "")
		}
		return nil
	},
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func describePath(path string) string {
	if fileExists(path) {
		return path
	}
	return path + " (not found)"
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitGlobal, "global", false, "Write the global config instead of the project config")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
