package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aidanlsb/pbipkit/internal/atomicfile"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/safeio"
)

// ManifestFile is the manifest inside every backup directory.
const ManifestFile = "manifest.json"

// filesDir holds the byte-identical copies inside a backup directory.
const filesDir = "files"

// Manifest describes one backup.
type Manifest struct {
	ID        string         `json:"id"`
	Project   string         `json:"project"`
	CreatedAt time.Time      `json:"created_at"`
	Entry     Entry          `json:"entry"`
	Files     []BackupRecord `json:"files"`
}

// BackupRecord is one file saved in a backup.
type BackupRecord struct {
	Path        string          `json:"path"`
	Encoding    safeio.Encoding `json:"encoding"`
	Size        int             `json:"size"`
	Fingerprint uint64          `json:"fingerprint"`
}

// DefaultBackupDir returns where backups go when none is configured.
func DefaultBackupDir(layout *project.Layout) string {
	return filepath.Join(layout.StatePath(), "backups")
}

// backupName formats <stem>_backup_<YYYYMMDD_HHMMSS_micro>_<nonce>.
func backupName(stem string, now time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_backup_%s_%06d_%s", stem, now.Format("20060102_150405"), now.Nanosecond()/1000, nonce)
}

// writeBackup copies originals into a new directory under dir, writes the
// manifest last and syncs everything. The backup only counts once the
// manifest is on disk.
func writeBackup(dir string, m *Manifest, originals map[string]*safeio.File) (_ string, err error) {
	target := filepath.Join(dir, backupName(m.Project, m.CreatedAt))
	defer func() {
		if err != nil {
			os.RemoveAll(target)
		}
	}()
	if err := os.MkdirAll(filepath.Join(target, filesDir), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrBackupFailed, err)
	}

	paths := make([]string, 0, len(originals))
	for rel := range originals {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	synced := map[string]struct{}{target: {}, dir: {}}
	for _, rel := range paths {
		f := originals[rel]
		dst := filepath.Join(target, filesDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrBackupFailed, err)
		}
		if err := writeFile(dst, f.Raw, 0o644); err != nil {
			return "", fmt.Errorf("%w: %s: %v", model.ErrBackupFailed, rel, err)
		}
		synced[filepath.Dir(dst)] = struct{}{}
		m.Files = append(m.Files, BackupRecord{
			Path:        rel,
			Encoding:    f.Encoding,
			Size:        len(f.Raw),
			Fingerprint: safeio.Fingerprint(f.Raw),
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrBackupFailed, err)
	}
	if err := writeFile(filepath.Join(target, ManifestFile), append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("%w: manifest: %v", model.ErrBackupFailed, err)
	}
	for d := range synced {
		if err := atomicfile.SyncDir(d); err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrBackupFailed, err)
		}
	}
	return target, nil
}

// readManifest loads the manifest of one backup directory.
func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return &m, nil
}

// findBackup scans dir for the backup whose manifest carries id.
func findBackup(dir, id string) (string, *Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", nil, err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), "_backup_") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		m, err := readManifest(path)
		if err != nil {
			continue
		}
		if m.ID == id {
			return path, m, nil
		}
	}
	return "", nil, fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
}

// loadBackup reads every saved file of a backup and checks it against the
// manifest.
func loadBackup(dir string, m *Manifest) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Files))
	for _, rec := range m.Files {
		raw, err := os.ReadFile(filepath.Join(dir, filesDir, filepath.FromSlash(rec.Path)))
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", filepath.Base(dir), err)
		}
		if safeio.Fingerprint(raw) != rec.Fingerprint {
			return nil, fmt.Errorf("%w: backup copy of %s does not match its manifest", model.ErrStructural, rec.Path)
		}
		out[rec.Path] = raw
	}
	return out, nil
}

// relToRoot stores backup locations relative to the project when they lie
// inside it, so a moved project keeps working.
func relToRoot(root, dir string) string {
	if rel, err := filepath.Rel(root, dir); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel)
	}
	return dir
}

func absFromRoot(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, filepath.FromSlash(dir))
}
