package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/config"
	"github.com/aidanlsb/pbipkit/internal/engine"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/testutil"
	"github.com/aidanlsb/pbipkit/internal/watcher"
)

type testResponse struct {
	OK       bool            `json:"ok"`
	Data     json.RawMessage `json:"data"`
	Error    *ErrorInfo      `json:"error"`
	Warnings []Warning       `json:"warnings"`
	Meta     *Meta           `json:"meta"`
}

// run executes the CLI in-process and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	resetFlags()

	rootCmd.SetArgs(args)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.Execute()
	return buf.String(), err
}

func runJSON(t *testing.T, args ...string) testResponse {
	t.Helper()
	out, err := run(t, append([]string{"--json"}, args...)...)
	require.NoError(t, err)
	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func resetFlags() {
	projectFlag, configPath, verbose, jsonOutput = "", "", false, false
	renameConfirm, renameManifest = false, ""
	validateMaxErrors, validateExhaustive = 0, false
	fixQuotingConfirm = false
	historyLimit = 20
	configInitGlobal = false
	watchDebounce = watcher.DefaultDebounce
}

func TestRenamePreviewWritesNothing(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	before := p.Snapshot()

	out, err := run(t, "-p", p.Path, "rename", "table", "Sales Data", "Sales")
	require.NoError(t, err)
	assert.Contains(t, out, "## Rename table `Sales Data` to `Sales`")
	assert.Contains(t, out, "15 edits in 7 files.")
	assert.Contains(t, out, "pbipkit rename table 'Sales Data' Sales -p "+p.Path+" --confirm")
	p.AssertSnapshotEqual(before, project.StateDir)

	out, err = run(t, "-p", p.Path, "rename", "column", "Sales Data", "Amount", "Net Amount")
	require.NoError(t, err)
	assert.Contains(t, out, "rename column 'Sales Data' Amount 'Net Amount'")
}

func TestRenameInteractivePrompt(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	prevInteractive, prevStdin := interactive, stdin
	interactive = func() bool { return true }
	t.Cleanup(func() { interactive, stdin = prevInteractive, prevStdin })

	stdin = strings.NewReader("n\n")
	out, err := run(t, "-p", p.Path, "rename", "measure", "Sales Data", "Total Sales", "Revenue")
	require.NoError(t, err)
	assert.Contains(t, out, "Apply changes?")
	p.AssertFileContains(testutil.SalesFile, "measure 'Total Sales'")

	stdin = strings.NewReader("yes\n")
	out, err = run(t, "-p", p.Path, "rename", "measure", "Sales Data", "Total Sales", "Revenue")
	require.NoError(t, err)
	assert.Contains(t, out, "pbipkit rollback ")
	p.AssertFileContains(testutil.SalesFile, "measure Revenue")
}

func TestIsYes(t *testing.T) {
	for _, in := range []string{"y", "Y\n", " yes ", "YES"} {
		assert.True(t, isYes(in), in)
	}
	for _, in := range []string{"", "n", "no", "yep", "\n"} {
		assert.False(t, isYes(in), in)
	}
}

func TestRenameConfirmHistoryRollback(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	before := p.Snapshot()

	resp := runJSON(t, "-p", p.Path, "rename", "table", "Sales Data", "Sales", "--confirm")
	require.True(t, resp.OK)
	var renamed struct {
		Preview bool `json:"preview"`
		Result  struct {
			ID             string   `json:"id"`
			CommittedFiles []string `json:"committed_files"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &renamed))
	assert.False(t, renamed.Preview)
	assert.Len(t, renamed.Result.CommittedFiles, 7)
	p.AssertFileContains(testutil.SalesFile, "table Sales\n")

	resp = runJSON(t, "-p", p.Path, "history")
	require.True(t, resp.OK)
	var entries []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
		Old  string `json:"old"`
		New  string `json:"new"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, renamed.Result.ID, entries[0].ID)
	assert.Equal(t, "table", entries[0].Kind)
	assert.Equal(t, "Sales Data", entries[0].Old)

	out, err := run(t, "-p", p.Path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "rename table Sales Data -> Sales")
	assert.Contains(t, out, renamed.Result.ID[:shortIDLen])

	resp = runJSON(t, "-p", p.Path, "rollback", renamed.Result.ID[:shortIDLen])
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, 7, resp.Meta.Count)
	p.AssertSnapshotEqual(before, project.StateDir)

	out, err = run(t, "-p", p.Path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back")
}

func TestRenameErrorsMapToCodes(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()

	resp := runJSON(t, "-p", p.Path, "rename", "table", "Nope", "Other", "--confirm")
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrReference, resp.Error.Code)

	resp = runJSON(t, "-p", p.Path, "rollback", "0123abcd")
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrNotFound, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Suggestion)

	resp = runJSON(t, "-p", filepath.Join(p.Path, "missing"), "validate")
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrProjectNotFound, resp.Error.Code)

	resp = runJSON(t, "-p", p.Path, "rename")
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrMissingArgument, resp.Error.Code)

	_, err := run(t, "-p", p.Path, "rename", "table", "Nope", "Other")
	assert.Error(t, err)
}

func TestRenameNoOpWarns(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()

	resp := runJSON(t, "-p", p.Path, "rename", "table", "Calendar", "Calendar", "--confirm")
	require.True(t, resp.OK)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, WarnNoChanges, resp.Warnings[0].Code)
}

func TestValidateAndFixQuoting(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()

	out, err := run(t, "-p", p.Path, "validate")
	require.NoError(t, err, "a warning alone does not fail validation")
	assert.Contains(t, out, "UNQUOTED_TABLE_IN_DAX")
	assert.Contains(t, out, "pbipkit fix-quoting")

	resp := runJSON(t, "-p", p.Path, "validate", "--exhaustive")
	require.True(t, resp.OK)
	assert.Equal(t, 1, resp.Meta.Count)
	assert.Equal(t, 1, resp.Meta.Warnings)
	assert.Zero(t, resp.Meta.Errors)

	resp = runJSON(t, "-p", p.Path, "fix-quoting", "--confirm")
	require.True(t, resp.OK)
	p.AssertFileContains(testutil.DateFile, "YEAR('Calendar'[Date])")

	out, err = run(t, "-p", p.Path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "No issues found")
}

func TestValidateFailsOnErrors(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n\tmeasure Total = SUM(Missing[Amount])\n\tcolumn Amount\n").
		Build()

	out, err := run(t, "-p", p.Path, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "ORPHANED_TABLE_REFERENCE")

	resp := runJSON(t, "-p", p.Path, "validate")
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.Meta.Errors)
}

func TestRefs(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()

	resp := runJSON(t, "-p", p.Path, "refs", "table", "Sales Data")
	require.True(t, resp.OK)
	assert.Equal(t, 15, resp.Meta.Count)

	out, err := run(t, "-p", p.Path, "refs", "measure", "Sales Data", "Total Sales")
	require.NoError(t, err)
	assert.Contains(t, out, testutil.SalesVisualFile)
}

func TestManifest(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	manifest := filepath.Join(t.TempDir(), "renames.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`renames:
  - kind: table
    old: Sales Data
    new: Sales
  - kind: column
    table: Sales
    old: Amount
    new: Net Amount
`), 0o644))

	resp := runJSON(t, "-p", p.Path, "rename", "--manifest", manifest)
	require.True(t, resp.OK)
	p.AssertFileContains(testutil.SalesFile, "table 'Sales Data'")

	resp = runJSON(t, "-p", p.Path, "rename", "--manifest", manifest, "--confirm")
	require.True(t, resp.OK, "%+v", resp.Error)
	var data struct {
		Steps []manifestStepResult `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Steps, 2)
	assert.Equal(t, "table-sales-data-sales", data.Steps[0].Name)
	for _, step := range data.Steps {
		assert.NotEmpty(t, step.Transaction)
		assert.Empty(t, step.Error)
	}
	p.AssertFileContains(testutil.SalesFile, "SUM(Sales[Net Amount])")

	// Running it again fails on the first step and stops.
	resp = runJSON(t, "-p", p.Path, "rename", "--manifest", manifest, "--confirm")
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrReference, resp.Error.Code)
}

func TestLoadManifest(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "renames.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	steps, err := loadManifest(write(t, "renames:\n  - kind: Column\n    table: Sales\n    old: Amount\n    new: Net Amount\n"))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "column-sales-amount-net-amount", steps[0].Name)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "", "lists no renames"},
		{"unknown kind", "renames:\n  - kind: view\n    old: a\n    new: b\n", "unknown identifier kind"},
		{"missing table", "renames:\n  - kind: measure\n    old: a\n    new: b\n", "table is required"},
		{"missing new", "renames:\n  - kind: table\n    old: a\n", "old and new are required"},
		{"unknown field", "renames:\n  - kind: table\n    old: a\n    new: b\n    force: true\n", "force"},
		{"duplicate name", "renames:\n  - {kind: table, old: a, new: b, name: x}\n  - {kind: table, old: c, new: d, name: x}\n", "already used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadManifest(write(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigInitAndShow(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()

	resp := runJSON(t, "-p", p.Path, "config", "init")
	require.True(t, resp.OK)
	var created struct {
		Path    string `json:"path"`
		Created bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.True(t, created.Created)
	assert.Equal(t, config.ProjectPath(p.Path), created.Path)

	resp = runJSON(t, "-p", p.Path, "config", "init")
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.False(t, created.Created)

	global := filepath.Join(t.TempDir(), "global.toml")
	resp = runJSON(t, "-p", p.Path, "--config", global, "config", "init", "--global")
	require.True(t, resp.OK, "%+v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.True(t, created.Created)
	assert.Equal(t, global, created.Path)

	require.NoError(t, os.WriteFile(config.ProjectPath(p.Path), []byte("max_errors = 7\n"), 0o644))
	out, err := run(t, "-p", p.Path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_errors = 7")

	require.NoError(t, os.WriteFile(config.ProjectPath(p.Path), []byte("max_erors = 7\n"), 0o644))
	resp = runJSON(t, "-p", p.Path, "validate")
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrConfigInvalid, resp.Error.Code)
}

func TestRevalidateAfterChange(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	eng, err := engine.Open(context.Background(), p.Path, engine.Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	findings, err := revalidate(context.Background(), eng, nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	broken := testutil.ModelDir + "/tables/Broken.tmdl"
	p.Overwrite(broken, "table Broken\n\tmeasure M = SUM('Gone'[X])\n")
	findings, err = revalidate(context.Background(), eng, []string{broken})
	require.NoError(t, err)
	var codes []string
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, model.CodeOrphanedTableReference)

	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })
	printWatchReport([]string{broken}, findings, nil)
	assert.Contains(t, buf.String(), broken+" changed")
	assert.Contains(t, buf.String(), "ORPHANED_TABLE_REFERENCE")
}

func TestCurrentVersionInfo(t *testing.T) {
	prev := readBuildInfo
	t.Cleanup(func() { readBuildInfo = prev })

	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			GoVersion: "go1.23.4",
			Main:      debug.Module{Path: "github.com/aidanlsb/pbipkit", Version: "v0.3.0"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.modified", Value: "true"},
				{Key: "GOOS", Value: "windows"},
				{Key: "GOARCH", Value: "amd64"},
			},
		}, true
	}
	info := currentVersionInfo()
	assert.Equal(t, "v0.3.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.True(t, info.Modified)
	assert.Equal(t, "windows/amd64", info.Platform)

	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	}
	info = currentVersionInfo()
	assert.Equal(t, "devel", info.Version)
	assert.Equal(t, defaultModulePath, info.ModulePath)
}
