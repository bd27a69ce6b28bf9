package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	in := []HistoryEntry{
		NewHistoryEntry(1, "a OR b", 0, 2),
		NewHistoryEntry(2, "k=", 7, 0),
	}
	for _, e := range in {
		require.NoError(t, j.Write(e))
	}
	require.NoError(t, j.Sync())

	out, err := j.Replay()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, j.Reset())
	out, err = j.Replay()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestJournalTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Write(NewHistoryEntry(1, "a", 0, 2)))
	require.NoError(t, j.Close())

	// Length prefix promising more bytes than follow
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{50, 0, 0, 0, '{'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	out, err := j.Replay()
	assert.Error(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Query)
}

func TestHistoryEntryLookup(t *testing.T) {
	e := NewHistoryEntry(42, "k=", 7, 0)
	v, ok := e.Lookup("status")
	assert.True(t, ok)
	assert.Equal(t, "invalid", v)

	v, _ = e.Lookup("CODE")
	assert.Equal(t, "missing_value", v)

	v, _ = e.Lookup("ts")
	assert.Equal(t, "42", v)

	_, ok = e.Lookup("level")
	assert.False(t, ok)
}
