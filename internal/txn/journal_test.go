package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/model"
)

func TestJournal(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("record and list newest first", func(t *testing.T) {
		j, err := OpenJournalInMemory()
		require.NoError(t, err)
		defer j.Close()

		require.NoError(t, j.Record(Entry{ID: "aaa111", CreatedAt: base, Kind: model.KindTable, Old: "Sales", New: "Revenue", Files: []string{"a.tmdl"}, Backup: "b1"}))
		require.NoError(t, j.Record(Entry{ID: "bbb222", CreatedAt: base.Add(time.Minute), QuotingFix: true, Files: []string{"b.tmdl", "c.json"}, Backup: "b2"}))
		require.NoError(t, j.Record(Entry{ID: "ccc333", CreatedAt: base.Add(2 * time.Minute), Kind: model.KindColumn, Table: "Sales", Old: "Amt", New: "Amount", Backup: "b3"}))

		all, err := j.List(0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"ccc333", "bbb222", "aaa111"}, []string{all[0].ID, all[1].ID, all[2].ID})
		assert.Equal(t, []string{"b.tmdl", "c.json"}, all[1].Files)
		assert.True(t, all[2].CreatedAt.Equal(base))

		assert.Equal(t, "rename column Sales[Amt] -> [Amount]", all[0].Label())
		assert.Equal(t, "fix quoting", all[1].Label())
		assert.Equal(t, "rename table Sales -> Revenue", all[2].Label())

		limited, err := j.List(1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "ccc333", limited[0].ID)
	})

	t.Run("lookup by id and prefix", func(t *testing.T) {
		j, err := OpenJournalInMemory()
		require.NoError(t, err)
		defer j.Close()

		require.NoError(t, j.Record(Entry{ID: "abc-1", CreatedAt: base, Backup: "x"}))
		require.NoError(t, j.Record(Entry{ID: "abd-2", CreatedAt: base, Backup: "y"}))

		e, err := j.Lookup("abc-1")
		require.NoError(t, err)
		assert.Equal(t, "x", e.Backup)

		e, err = j.Lookup("abd")
		require.NoError(t, err)
		assert.Equal(t, "abd-2", e.ID)

		_, err = j.Lookup("ab")
		assert.ErrorContains(t, err, "ambiguous")

		_, err = j.Lookup("zzz")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("mark rolled back", func(t *testing.T) {
		j, err := OpenJournalInMemory()
		require.NoError(t, err)
		defer j.Close()

		require.NoError(t, j.Record(Entry{ID: "t1", CreatedAt: base, Backup: "x"}))
		require.NoError(t, j.MarkRolledBack("t1", base.Add(time.Hour)))

		e, err := j.Lookup("t1")
		require.NoError(t, err)
		require.True(t, e.RolledBack())
		assert.True(t, e.RolledBackAt.Equal(base.Add(time.Hour)))

		assert.ErrorIs(t, j.MarkRolledBack("missing", base), model.ErrNotFound)
	})

	t.Run("reopen on disk", func(t *testing.T) {
		dir := t.TempDir()
		j, err := OpenJournal(dir)
		require.NoError(t, err)
		require.NoError(t, j.Record(Entry{ID: "persisted", CreatedAt: base, Backup: "x"}))
		require.NoError(t, j.Close())

		j, err = OpenJournal(dir)
		require.NoError(t, err)
		defer j.Close()
		e, err := j.Lookup("persisted")
		require.NoError(t, err)
		assert.Equal(t, "x", e.Backup)
	})
}
