// Package engine is the entry point for renaming and validating a Power BI
// project. An Engine owns the project layout, the current index snapshot
// and the transaction journal, and wires the locator, validator and
// transaction packages together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aidanlsb/pbipkit/internal/check"
	"github.com/aidanlsb/pbipkit/internal/config"
	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/index"
	"github.com/aidanlsb/pbipkit/internal/locate"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/quoting"
	"github.com/aidanlsb/pbipkit/internal/txn"
)

// Options configure an Engine.
type Options struct {
	// Logger receives structured logs. Nil discards them.
	Logger *slog.Logger

	// Config is the effective configuration. Nil means defaults.
	Config *config.Config
}

// Engine operates on one project.
type Engine struct {
	cfg       *config.Config
	rules     *quoting.Rules
	guard     *guard.Guard
	logger    *slog.Logger
	backupDir string
	discover  *project.Options

	mu     sync.RWMutex
	layout *project.Layout
	idx    *index.Index

	journalMu sync.Mutex
	journal   *txn.Journal
}

// Open discovers the project at root and indexes it.
func Open(ctx context.Context, root string, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	backupDir := cfg.BackupPath(absRoot)

	var discover *project.Options
	if backupDir != "" {
		discover = &project.Options{SkipDirs: []string{backupDir}}
	}
	layout, err := project.Discover(absRoot, discover)
	if err != nil {
		return nil, err
	}
	if backupDir == "" {
		backupDir = txn.DefaultBackupDir(layout)
	}

	e := &Engine{
		cfg:       cfg,
		rules:     quoting.NewRules(cfg.ReservedWords...),
		guard:     guard.New(),
		logger:    logger,
		backupDir: backupDir,
		discover:  discover,
	}
	if err := e.rebuild(ctx, layout); err != nil {
		return nil, err
	}
	logger.Debug("project opened", "root", layout.Root, "model_files", len(layout.ModelFiles), "report_files", len(layout.ReportFiles))
	return e, nil
}

// Close releases the journal.
func (e *Engine) Close() error {
	e.journalMu.Lock()
	defer e.journalMu.Unlock()
	if e.journal == nil {
		return nil
	}
	err := e.journal.Close()
	e.journal = nil
	return err
}

// Layout returns the discovered project files.
func (e *Engine) Layout() *project.Layout {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layout
}

// BackupDir is where transactions write their backups.
func (e *Engine) BackupDir() string { return e.backupDir }

// Index returns the current snapshot.
func (e *Engine) Index() *index.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx
}

// Refresh re-reads every file of the layout and replaces the snapshot.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.rebuild(ctx, e.Layout())
}

// Reload discovers the project files again, picking up added and removed
// files, and rebuilds the snapshot.
func (e *Engine) Reload(ctx context.Context) error {
	layout, err := project.Discover(e.Layout().Root, e.discover)
	if err != nil {
		return err
	}
	return e.rebuild(ctx, layout)
}

func (e *Engine) rebuild(ctx context.Context, layout *project.Layout) error {
	idx, err := index.Build(ctx, layout, index.DiskSource{Layout: layout}, index.Options{
		Workers: e.cfg.Workers,
		Logger:  e.logger,
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.layout = layout
	e.idx = idx
	e.mu.Unlock()
	return nil
}

func (e *Engine) locator() *locate.Locator {
	return locate.New(e.Index(), e.guard, e.rules)
}

// PlanRename computes every edit needed to rename old to new within scope.
// Equal names give a NoOp plan.
func (e *Engine) PlanRename(scope model.Scope, oldName, newName string) (*model.RenamePlan, error) {
	plan, err := e.locator().Plan(scope, oldName, newName)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("rename planned", "plan", plan.ID, "kind", scope.Kind, "old", oldName, "new", newName,
		"occurrences", len(plan.Occurrences))
	return plan, nil
}

// References lists where an existing identifier is used, in file then
// position order.
func (e *Engine) References(scope model.Scope, name string) ([]model.Occurrence, error) {
	occs, err := e.locator().Find(scope, name)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(occs, func(i, j int) bool {
		if occs[i].File != occs[j].File {
			return occs[i].File < occs[j].File
		}
		return occs[i].Offset < occs[j].Offset
	})
	return occs, nil
}

// PlanQuotingFix plans quoting every bare DAX table reference that needs it.
func (e *Engine) PlanQuotingFix() (*model.RenamePlan, error) {
	return e.locator().QuotingFixPlan(), nil
}

// Apply runs plan as one transaction and refreshes the index on success.
func (e *Engine) Apply(ctx context.Context, plan *model.RenamePlan) (*txn.TransactionResult, error) {
	if plan == nil {
		return nil, errors.New("nil plan")
	}
	if plan.NoOp() {
		return &txn.TransactionResult{ID: plan.ID, NoOp: true}, nil
	}

	journal, err := e.openJournal()
	if err != nil {
		return nil, err
	}
	res, err := txn.New(e.Layout(), plan, e.txnOptions(journal)).Apply(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.Refresh(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("rename committed but index refresh failed", "error", err)
	}
	return res, nil
}

// Validate checks the current snapshot. maxErrors of zero falls back to the
// configured budget and then to check.DefaultMaxErrors; it is ignored in
// exhaustive mode.
func (e *Engine) Validate(ctx context.Context, mode check.Mode, maxErrors int) ([]model.Finding, error) {
	if maxErrors <= 0 {
		maxErrors = e.cfg.MaxErrors
	}
	v := check.NewValidator(e.Index(), e.rules)
	return v.Validate(ctx, check.Options{Mode: mode, MaxErrors: maxErrors})
}

// Rollback restores the files of transaction id and returns them.
func (e *Engine) Rollback(ctx context.Context, id string) ([]string, error) {
	journal, err := e.existingJournal()
	if err != nil {
		return nil, err
	}
	files, err := txn.Rollback(e.Layout(), id, e.txnOptions(journal))
	if err != nil {
		return files, err
	}
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("rollback done but index refresh failed", "error", err)
	}
	return files, nil
}

// History lists committed transactions, newest first.
func (e *Engine) History(limit int) ([]txn.Entry, error) {
	journal, err := e.existingJournal()
	if err != nil || journal == nil {
		return nil, err
	}
	return journal.List(limit)
}

func (e *Engine) txnOptions(journal *txn.Journal) txn.Options {
	return txn.Options{
		Logger:    e.logger,
		Rules:     e.rules,
		Guard:     e.guard,
		Workers:   e.cfg.Workers,
		BackupDir: e.backupDir,
		Journal:   journal,
	}
}

func (e *Engine) openJournal() (*txn.Journal, error) {
	e.journalMu.Lock()
	defer e.journalMu.Unlock()
	if e.journal != nil {
		return e.journal, nil
	}
	j, err := txn.OpenJournal(e.Layout().StatePath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	e.journal = j
	return j, nil
}

// existingJournal opens the journal only if one has been written.
func (e *Engine) existingJournal() (*txn.Journal, error) {
	if _, err := os.Stat(filepath.Join(e.Layout().StatePath(), txn.JournalFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return e.openJournal()
}
