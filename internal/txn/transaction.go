// Package txn applies rename plans to a project as all-or-nothing
// transactions and undoes them later from durable backups.
//
// A transaction moves through Pending, Applying and Validating and ends
// either Committed or RolledBack. Nothing is written to the project until
// the new content has been validated and a backup of every touched file is
// on disk.
package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aidanlsb/pbipkit/internal/atomicfile"
	"github.com/aidanlsb/pbipkit/internal/check"
	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/index"
	"github.com/aidanlsb/pbipkit/internal/locate"
	"github.com/aidanlsb/pbipkit/internal/lock"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/quoting"
	"github.com/aidanlsb/pbipkit/internal/safeio"
)

// State is the lifecycle position of a Transaction.
type State int

const (
	StatePending State = iota
	StateApplying
	StateValidating
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplying:
		return "applying"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// writeFile writes backups and project files. Tests replace it to fail
// part-way through.
var writeFile = atomicfile.WriteFile

// ErrValidationGate is wrapped when the rewritten content of a touched file
// has a structural error or a new reference error.
var ErrValidationGate = errors.New("rename would leave errors in touched files")

// TransactionError reports a failed transaction and every file it affected.
type TransactionError struct {
	ID    string
	State State
	Files []string

	// Findings holds the blocking findings when the validation gate failed.
	Findings []model.Finding

	Err error
}

func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("transaction %s %s: %v", e.ID, e.State, e.Err)
	if len(e.Files) > 0 {
		msg += " (files: " + strings.Join(e.Files, ", ") + ")"
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Err }

// TransactionResult is the outcome of a successful Apply.
type TransactionResult struct {
	ID             string   `json:"id"`
	NoOp           bool     `json:"no_op,omitempty"`
	CommittedFiles []string `json:"committed_files"`
	BackupLocation string   `json:"backup_location,omitempty"`
}

// Options configure transactions.
type Options struct {
	Logger *slog.Logger

	// Rules are used by the validation gate. Nil means quoting.Default().
	Rules *quoting.Rules

	// Guard shields external references. Nil means guard.New().
	Guard *guard.Guard

	// Workers bounds parallel rewrites and index builds. Zero means GOMAXPROCS.
	Workers int

	// BackupDir is where backups are written. Empty means DefaultBackupDir.
	BackupDir string

	// Journal records committed transactions. May be nil.
	Journal *Journal

	// Now is the clock; tests pin it.
	Now func() time.Time
}

func (o Options) withDefaults(layout *project.Layout) Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Rules == nil {
		o.Rules = quoting.Default()
	}
	if o.Guard == nil {
		o.Guard = guard.New()
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BackupDir == "" {
		o.BackupDir = DefaultBackupDir(layout)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type fileState struct {
	original *safeio.File
	pending  *safeio.File
}

// Transaction applies one plan. It is single-use.
type Transaction struct {
	ID     string
	plan   *model.RenamePlan
	layout *project.Layout
	opts   Options
	logger *slog.Logger

	state State
	files []string
	snap  map[string]*fileState
}

// New prepares a transaction for plan. Nothing is read until Apply.
func New(layout *project.Layout, plan *model.RenamePlan, opts Options) *Transaction {
	opts = opts.withDefaults(layout)
	id := plan.ID
	if id == "" {
		id = newID()
	}
	return &Transaction{
		ID:     id,
		plan:   plan,
		layout: layout,
		opts:   opts,
		logger: opts.Logger.With("txn", id),
		state:  StatePending,
	}
}

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Apply runs the transaction to completion. A NoOp plan returns at once
// without taking the lock or touching any file.
func (t *Transaction) Apply(ctx context.Context) (*TransactionResult, error) {
	if t.plan.NoOp() {
		return &TransactionResult{ID: t.ID, NoOp: true}, nil
	}
	if t.state != StatePending {
		return nil, fmt.Errorf("transaction %s is %s", t.ID, t.state)
	}
	t.state = StateApplying
	t.files = t.plan.Files()
	sort.Strings(t.files)

	lk, err := lock.Acquire(t.layout.Root, t.layout.StatePath())
	if err != nil {
		t.state = StateRolledBack
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			t.logger.Warn("failed to release project lock", "error", err)
		}
	}()

	t.logger.Info("applying rename", "occurrences", len(t.plan.Occurrences), "files", len(t.files))

	if err := t.snapshot(); err != nil {
		return nil, t.abort(err, nil)
	}
	if err := t.compute(ctx); err != nil {
		return nil, t.abort(err, nil)
	}

	t.state = StateValidating
	if findings, err := t.validate(ctx); err != nil {
		return nil, t.abort(err, findings)
	}
	if err := ctx.Err(); err != nil {
		return nil, t.abort(err, nil)
	}

	backup, err := t.backup()
	if err != nil {
		t.logger.Error("backup failed, project left untouched", "error", err)
		return nil, t.abort(err, nil)
	}

	if err := t.commit(); err != nil {
		return nil, err
	}
	t.state = StateCommitted

	if t.opts.Journal != nil {
		entry := t.entry(relToRoot(t.layout.Root, backup))
		if err := t.opts.Journal.Record(entry); err != nil {
			t.logger.Warn("transaction committed but not journaled", "error", err, "backup", backup)
		}
	}

	t.logger.Info("rename committed", "files", len(t.files), "backup", backup)
	return &TransactionResult{ID: t.ID, CommittedFiles: t.files, BackupLocation: backup}, nil
}

// abort ends the transaction before any project file was written.
func (t *Transaction) abort(err error, findings []model.Finding) error {
	t.state = StateRolledBack
	t.snap = nil
	t.logger.Warn("rename rolled back", "error", err)
	return &TransactionError{ID: t.ID, State: StateRolledBack, Files: t.files, Findings: findings, Err: err}
}

// snapshot reads every touched file and checks it still matches the plan.
func (t *Transaction) snapshot() error {
	t.snap = make(map[string]*fileState, len(t.files))
	for _, rel := range t.files {
		abs := t.layout.Abs(rel)
		if err := project.ValidateWithinRoot(t.layout.Root, abs); err != nil {
			return model.NewFileError(rel, err)
		}
		f, err := safeio.ReadFile(abs)
		if err != nil {
			return model.NewFileError(rel, fmt.Errorf("%w: %v", model.ErrIO, err))
		}
		want, ok := t.plan.Fingerprints[rel]
		if !ok || want != safeio.Fingerprint(f.Raw) {
			return model.NewFileError(rel, fmt.Errorf("%w: file changed since the plan was made (stale plan)", model.ErrStructural))
		}
		t.snap[rel] = &fileState{original: f}
	}
	return nil
}

// compute rewrites every touched file in memory, in parallel.
func (t *Transaction) compute(ctx context.Context) error {
	byFile := t.plan.ByFile()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)
	for _, rel := range t.files {
		rel := rel
		fs := t.snap[rel]
		occs := byFile[rel]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := locate.Rewrite(t.opts.Guard, fs.original.Text, occs)
			if err != nil {
				return model.NewFileError(rel, err)
			}
			raw, err := fs.original.Encode(text)
			if err != nil {
				return model.NewFileError(rel, fmt.Errorf("%w: %v", model.ErrIO, err))
			}
			fs.pending = &safeio.File{Raw: raw, Text: text, Encoding: fs.original.Encoding}
			return nil
		})
	}
	return g.Wait()
}

// validate checks the touched files after the rewrite. Any structural error
// blocks the commit. Other errors block only when they were not already
// present before the rewrite.
func (t *Transaction) validate(ctx context.Context) ([]model.Finding, error) {
	before, err := t.check(ctx, func(fs *fileState) *safeio.File { return fs.original })
	if err != nil {
		return nil, err
	}
	after, err := t.check(ctx, func(fs *fileState) *safeio.File { return fs.pending })
	if err != nil {
		return nil, err
	}

	blocking := gateFindings(before, after)
	if len(blocking) > 0 {
		for _, f := range blocking {
			t.logger.Debug("validation gate finding", "finding", f.String())
		}
		return blocking, fmt.Errorf("%w: %d error finding(s)", ErrValidationGate, len(blocking))
	}
	return nil, nil
}

func (t *Transaction) check(ctx context.Context, pick func(*fileState) *safeio.File) ([]model.Finding, error) {
	src := &overlay{base: index.DiskSource{Layout: t.layout}, files: make(map[string]*safeio.File, len(t.snap))}
	for rel, fs := range t.snap {
		src.files[rel] = pick(fs)
	}
	idx, err := index.Build(ctx, t.layout, src, index.Options{Workers: t.opts.Workers, Logger: t.logger})
	if err != nil {
		return nil, err
	}
	return check.NewValidator(idx, t.opts.Rules).Validate(ctx, check.Options{
		Mode:  check.ModeExhaustive,
		Files: t.files,
	})
}

type findingKey struct {
	file string
	code string
}

// gateFindings returns the error findings of after that block a commit:
// every structural error, and any other error whose (file, code) count
// exceeds the count in before. Lines move and names change during a
// rename, so non-structural findings are compared by kind rather than
// position.
func gateFindings(before, after []model.Finding) []model.Finding {
	counts := make(map[findingKey]int)
	for _, f := range before {
		if f.Severity == model.SeverityError && f.Category != model.CategoryStructural {
			counts[findingKey{f.File, f.Code}]++
		}
	}
	var out []model.Finding
	for _, f := range after {
		if f.Severity != model.SeverityError {
			continue
		}
		if f.Category == model.CategoryStructural {
			out = append(out, f)
			continue
		}
		k := findingKey{f.File, f.Code}
		if counts[k] > 0 {
			counts[k]--
			continue
		}
		out = append(out, f)
	}
	return out
}

func (t *Transaction) backup() (string, error) {
	originals := make(map[string]*safeio.File, len(t.snap))
	for rel, fs := range t.snap {
		originals[rel] = fs.original
	}
	m := &Manifest{
		ID:        t.ID,
		Project:   t.layout.Name,
		CreatedAt: t.opts.Now(),
		Entry:     t.entry(""),
	}
	dir, err := writeBackup(t.opts.BackupDir, m, originals)
	if err != nil {
		return "", err
	}
	return dir, nil
}

// commit writes pending content one file at a time. On failure every file
// already written is restored from the snapshot.
func (t *Transaction) commit() error {
	var written []string
	for _, rel := range t.files {
		fs := t.snap[rel]
		if err := writeFile(t.layout.Abs(rel), fs.pending.Raw, 0); err != nil {
			t.state = StateRolledBack
			failed := model.NewFileError(rel, fmt.Errorf("%w: %v", model.ErrIO, err))
			affected := append(append([]string{}, written...), rel)
			if rerr := t.restore(written); rerr != nil {
				t.logger.Error("restore after failed commit incomplete", "error", rerr)
				failed = errors.Join(failed, rerr)
			}
			return &TransactionError{ID: t.ID, State: StateRolledBack, Files: affected, Err: failed}
		}
		written = append(written, rel)
		t.logger.Debug("wrote file", "file", rel)
	}
	return nil
}

func (t *Transaction) restore(files []string) error {
	var errs []error
	for _, rel := range files {
		if err := writeFile(t.layout.Abs(rel), t.snap[rel].original.Raw, 0); err != nil {
			errs = append(errs, model.NewFileError(rel, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Transaction) entry(backup string) Entry {
	e := Entry{
		ID:        t.ID,
		CreatedAt: t.opts.Now().UTC(),
		Files:     t.files,
		Backup:    backup,
	}
	describe(&e, t.plan)
	return e
}

// overlay serves some files from memory and the rest from base.
type overlay struct {
	base  index.Source
	files map[string]*safeio.File
}

func (o *overlay) Read(rel string) (*safeio.File, error) {
	if f, ok := o.files[rel]; ok {
		return f, nil
	}
	return o.base.Read(rel)
}
