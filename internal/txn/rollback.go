package txn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/aidanlsb/pbipkit/internal/atomicfile"
	"github.com/aidanlsb/pbipkit/internal/lock"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
)

func newID() string { return uuid.NewString() }

// Rollback restores every file saved by transaction id, byte for byte. The
// backup is found through the journal when one is configured and by
// scanning the backup directory otherwise. It returns the restored files
// and fails with model.ErrNotFound for an unknown id.
func Rollback(layout *project.Layout, id string, opts Options) ([]string, error) {
	opts = opts.withDefaults(layout)
	logger := opts.Logger.With("txn", id)

	dir, m, err := locateBackup(layout, id, opts)
	if err != nil {
		return nil, err
	}
	raw, err := loadBackup(dir, m)
	if err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(layout.Root, layout.StatePath())
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	files := make([]string, 0, len(raw))
	for rel := range raw {
		files = append(files, rel)
	}
	sort.Strings(files)

	var errs []error
	var restored []string
	for _, rel := range files {
		abs := layout.Abs(rel)
		if err := project.ValidateWithinRoot(layout.Root, abs); err != nil {
			errs = append(errs, model.NewFileError(rel, err))
			continue
		}
		if err := atomicfile.WriteFile(abs, raw[rel], 0); err != nil {
			errs = append(errs, model.NewFileError(rel, err))
			continue
		}
		restored = append(restored, rel)
	}
	if len(errs) > 0 {
		return restored, &TransactionError{ID: m.ID, State: StateRolledBack, Files: files, Err: errors.Join(errs...)}
	}

	if opts.Journal != nil {
		if err := opts.Journal.MarkRolledBack(m.ID, opts.Now().UTC()); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Warn("files restored but journal not updated", "error", err)
		}
	}
	logger.Info("transaction rolled back", "files", len(restored), "backup", dir)
	return restored, nil
}

func locateBackup(layout *project.Layout, id string, opts Options) (string, *Manifest, error) {
	if opts.Journal != nil {
		entry, err := opts.Journal.Lookup(id)
		switch {
		case err == nil:
			dir := absFromRoot(layout.Root, entry.Backup)
			m, err := readManifest(dir)
			if err != nil {
				return "", nil, fmt.Errorf("backup of transaction %s is unreadable: %w", entry.ID, err)
			}
			return dir, m, nil
		case !errors.Is(err, model.ErrNotFound):
			return "", nil, err
		}
	}
	return findBackup(opts.BackupDir, id)
}
