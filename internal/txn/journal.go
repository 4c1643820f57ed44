package txn

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aidanlsb/pbipkit/internal/model"
)

// JournalFile is the history database inside the state directory.
const JournalFile = "history.db"

// journalVersion is bumped whenever the schema changes. An older journal
// is moved aside rather than migrated.
const journalVersion = 1

// Entry is one committed transaction.
type Entry struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Kind         model.Kind `json:"kind,omitempty"`
	Table        string     `json:"table,omitempty"`
	Old          string     `json:"old,omitempty"`
	New          string     `json:"new,omitempty"`
	QuotingFix   bool       `json:"quoting_fix,omitempty"`
	Files        []string   `json:"files"`
	Backup       string     `json:"backup"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// RolledBack reports whether the entry has been undone.
func (e *Entry) RolledBack() bool { return e.RolledBackAt != nil }

// Label describes the change in one line.
func (e *Entry) Label() string {
	if e.QuotingFix {
		return "fix quoting"
	}
	if e.Kind == model.KindTable {
		return fmt.Sprintf("rename table %s -> %s", e.Old, e.New)
	}
	return fmt.Sprintf("rename %s %s[%s] -> [%s]", e.Kind, e.Table, e.Old, e.New)
}

// Journal records committed transactions in SQLite.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the journal in stateDir.
func OpenJournal(stateDir string) (*Journal, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(stateDir, JournalFile)
	j, err := openJournal(path)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, errIncompatibleJournal) {
		return nil, err
	}

	// Keep the old history readable by hand instead of discarding it.
	aside := fmt.Sprintf("%s.v%d-%s", path, journalVersion-1, time.Now().Format("20060102150405"))
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("failed to move incompatible journal aside: %w", err)
	}
	removeSidecars(path)
	return openJournal(path)
}

// OpenJournalInMemory opens a throwaway journal (for testing).
func OpenJournalInMemory() (*Journal, error) {
	return openJournal(":memory:")
}

var errIncompatibleJournal = errors.New("journal schema is incompatible")

func openJournal(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func removeSidecars(path string) {
	for _, p := range []string{path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

func (j *Journal) initialize() error {
	schema := `
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,     -- Unix microseconds
			kind TEXT NOT NULL DEFAULT '',
			table_name TEXT NOT NULL DEFAULT '',
			old_name TEXT NOT NULL DEFAULT '',
			new_name TEXT NOT NULL DEFAULT '',
			quoting_fix INTEGER NOT NULL DEFAULT 0,
			files TEXT NOT NULL DEFAULT '[]', -- JSON array of root-relative paths
			backup TEXT NOT NULL,
			rolled_back_at INTEGER           -- NULL until rolled back
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	var version string
	err := j.db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = j.db.Exec(`INSERT INTO meta (key, value) VALUES ('version', ?)`, fmt.Sprintf("%d", journalVersion))
		if err != nil {
			return fmt.Errorf("failed to set journal version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read journal version: %w", err)
	case version != fmt.Sprintf("%d", journalVersion):
		return fmt.Errorf("%w: version %s", errIncompatibleJournal, version)
	}
	return nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a committed transaction.
func (j *Journal) Record(e Entry) error {
	files, err := json.Marshal(e.Files)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(`
		INSERT INTO transactions (id, created_at, kind, table_name, old_name, new_name, quoting_fix, files, backup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixMicro(), string(e.Kind), e.Table, e.Old, e.New, e.QuotingFix, string(files), e.Backup)
	if err != nil {
		return fmt.Errorf("failed to record transaction %s: %w", e.ID, err)
	}
	return nil
}

const entryColumns = `id, created_at, kind, table_name, old_name, new_name, quoting_fix, files, backup, rolled_back_at`

// Lookup finds an entry by id or by a unique id prefix.
func (j *Journal) Lookup(id string) (*Entry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty transaction id", model.ErrNotFound)
	}
	rows, err := j.db.Query(`SELECT `+entryColumns+` FROM transactions
		WHERE id = ? OR substr(id, 1, ?) = ?
		ORDER BY (id = ?) DESC, created_at DESC
		LIMIT 2`, id, len(id), id, id)
	if err != nil {
		return nil, err
	}
	entries, err := scanRows(rows, scanEntry)
	if err != nil {
		return nil, err
	}

	switch {
	case len(entries) == 0:
		return nil, fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
	case entries[0].ID == id || len(entries) == 1:
		return &entries[0], nil
	default:
		return nil, fmt.Errorf("transaction id prefix %q is ambiguous", id)
	}
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (j *Journal) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(`SELECT `+entryColumns+` FROM transactions
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, scanEntry)
}

// MarkRolledBack stamps an entry as undone.
func (j *Journal) MarkRolledBack(id string, at time.Time) error {
	res, err := j.db.Exec(`UPDATE transactions SET rolled_back_at = ? WHERE id = ?`, at.UnixMicro(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
	}
	return nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		created    int64
		kind       string
		files      string
		rolledBack sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &created, &kind, &e.Table, &e.Old, &e.New, &e.QuotingFix, &files, &e.Backup, &rolledBack); err != nil {
		return e, err
	}
	e.CreatedAt = time.UnixMicro(created).UTC()
	e.Kind = model.Kind(kind)
	if err := json.Unmarshal([]byte(files), &e.Files); err != nil {
		return e, fmt.Errorf("transaction %s: bad file list: %w", e.ID, err)
	}
	if rolledBack.Valid {
		at := time.UnixMicro(rolledBack.Int64).UTC()
		e.RolledBackAt = &at
	}
	return e, nil
}

// scanRows scans all rows into a slice using the provided scanner.
func scanRows[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// describe fills the rename fields of an entry from a plan.
func describe(e *Entry, plan *model.RenamePlan) {
	e.QuotingFix = plan.QuotingFix
	if plan.QuotingFix {
		return
	}
	e.Kind = plan.Scope.Kind
	e.Table = plan.Scope.Table
	e.Old = plan.Old.Name
	e.New = plan.New.Name
	if e.Kind == model.KindTable {
		e.Table = ""
	}
}
