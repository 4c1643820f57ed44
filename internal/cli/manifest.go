package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	goslug "github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/ui"
)

// renameManifestFile lists renames to run in order, e.g.
//
//	renames:
//	  - kind: table
//	    old: Sales Data
//	    new: Sales
//	  - kind: column
//	    table: Sales
//	    old: Amount
//	    new: Net Amount
type renameManifestFile struct {
	Renames []manifestStep `yaml:"renames"`
}

type manifestStep struct {
	Name  string     `yaml:"name" json:"name"`
	Kind  model.Kind `yaml:"kind" json:"kind"`
	Table string     `yaml:"table,omitempty" json:"table,omitempty"`
	Old   string     `yaml:"old" json:"old"`
	New   string     `yaml:"new" json:"new"`
}

func (s manifestStep) scope() model.Scope {
	return model.Scope{Kind: s.Kind, Table: s.Table}
}

// manifestStepResult reports one step of a manifest run.
type manifestStepResult struct {
	manifestStep
	Occurrences int      `json:"occurrences"`
	Transaction string   `json:"transaction,omitempty"`
	Files       []string `json:"files,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// loadManifest reads and checks a rename manifest. Steps without a name
// get one derived from what they rename.
func loadManifest(path string) ([]manifestStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var file renameManifestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(file.Renames) == 0 {
		return nil, fmt.Errorf("manifest %s lists no renames", path)
	}

	seen := make(map[string]int, len(file.Renames))
	for i := range file.Renames {
		step := &file.Renames[i]
		kind, err := model.ParseKind(strings.ToLower(strings.TrimSpace(string(step.Kind))))
		if err != nil {
			return nil, fmt.Errorf("rename %d: %w", i+1, err)
		}
		step.Kind = kind
		if step.Old == "" || step.New == "" {
			return nil, fmt.Errorf("rename %d: old and new are required", i+1)
		}
		if kind != model.KindTable && step.Table == "" {
			return nil, fmt.Errorf("rename %d: table is required for a %s", i+1, kind)
		}
		if step.Name == "" {
			step.Name = goslug.Make(fmt.Sprintf("%s %s %s %s", kind, step.Table, step.Old, step.New))
		}
		if prev, ok := seen[step.Name]; ok {
			return nil, fmt.Errorf("rename %d: name %q already used by rename %d", i+1, step.Name, prev)
		}
		seen[step.Name] = i + 1
	}
	return file.Renames, nil
}

// runManifest previews every step, or applies them one transaction at a
// time when confirmed. Later steps are planned against the project as left
// by earlier ones, so a preview of a dependent step may fail to resolve.
// The first failed step stops the run.
func runManifest(ctx context.Context, path string, confirm bool) error {
	steps, err := loadManifest(path)
	if err != nil {
		return handleError(ErrInvalidInput, err, "See 'pbipkit rename --help' for the manifest format")
	}

	eng, err := openEngine(ctx)
	if err != nil {
		return handleEngineError(err, "")
	}
	defer eng.Close()

	if !confirm {
		results := make([]manifestStepResult, 0, len(steps))
		for _, step := range steps {
			res := manifestStepResult{manifestStep: step}
			plan, err := eng.PlanRename(step.scope(), step.Old, step.New)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Occurrences = len(plan.Occurrences)
				res.Files = plan.Files()
				if !isJSONOutput() {
					printPreview(plan)
					fmt.Fprintln(stdout)
				}
			}
			results = append(results, res)
		}
		if isJSONOutput() {
			outputSuccess(map[string]interface{}{"preview": true, "steps": results}, &Meta{Count: len(results)})
			return nil
		}
		for _, res := range results {
			if res.Error != "" {
				fmt.Fprintln(stdout, ui.Warningf("%s: %s", res.Name, res.Error))
			}
		}
		if !promptForConfirm(fmt.Sprintf("Apply %s?", ui.Count(len(steps), "rename", "renames"))) {
			fmt.Fprintln(stdout, ui.Hint("Preview only. Run again with --confirm to apply."))
			return nil
		}
	}

	results := make([]manifestStepResult, 0, len(steps))
	for _, step := range steps {
		res := manifestStepResult{manifestStep: step}
		plan, err := eng.PlanRename(step.scope(), step.Old, step.New)
		if err == nil {
			res.Occurrences = len(plan.Occurrences)
			if !plan.NoOp() {
				tx, applyErr := eng.Apply(ctx, plan)
				if applyErr != nil {
					err = applyErr
				} else {
					res.Transaction = tx.ID
					res.Files = tx.CommittedFiles
				}
			}
		}
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			return manifestFailed(step, results, err)
		}
		results = append(results, res)
		if !isJSONOutput() {
			fmt.Fprintln(stdout, ui.Successf("%s %s", step.Name, ui.Count(len(res.Files), "file", "files")))
		}
	}

	if isJSONOutput() {
		outputSuccess(map[string]interface{}{"steps": results}, &Meta{Count: len(results)})
		return nil
	}
	fmt.Fprintln(stdout, ui.Hint("Undo a step with: pbipkit rollback <transaction>"))
	return nil
}

func manifestFailed(step manifestStep, results []manifestStepResult, err error) error {
	msg := fmt.Sprintf("rename %q failed: %v", step.Name, err)
	if isJSONOutput() {
		outputError(errorCode(err), msg, map[string]interface{}{"steps": results}, applySuggestion(err))
		return nil
	}
	return errors.New(msg)
}
