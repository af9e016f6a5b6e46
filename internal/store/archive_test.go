package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koalatalk/koalatalk-go/internal/model"
)

func archiveMsg(id int64, channel string, ts int64) model.Message {
	return model.Message{ID: id, Channel: channel, Alias: "koala", Type: model.TypeText, Text: "hi", CreatedAt: ts}
}

func TestArchiveSaveAndRecent(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "messages.db"))
	defer a.Close()

	now := time.Now().Unix()
	a.Save(archiveMsg(2, "public-1", now-10))
	a.Save(archiveMsg(1, "public-1", now-20))
	a.Save(archiveMsg(3, "dm:bear:koala", now-5))

	got := a.Recent("public-1", 10)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID, "recent rows come back chronological")
	require.Equal(t, int64(2), got[1].ID)

	require.Len(t, a.Recent("dm:bear:koala", 10), 1)
	require.Empty(t, a.Recent("dm:wombat:koala", 10))
}

func TestArchiveSaveReplacesById(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "messages.db"))
	defer a.Close()

	now := time.Now().Unix()
	a.Save(archiveMsg(1, "public-1", now))
	updated := archiveMsg(1, "public-1", now)
	updated.Text = "call ended"
	a.Save(updated)

	got := a.Recent("public-1", 10)
	require.Len(t, got, 1)
	require.Equal(t, "call ended", got[0].Text)
}

func TestArchiveDelete(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "messages.db"))
	defer a.Close()

	now := time.Now().Unix()
	a.Save(archiveMsg(1, "public-1", now))
	a.Delete(1)

	require.Empty(t, a.Recent("public-1", 10))
}

func TestArchiveLimit(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "messages.db"))
	defer a.Close()

	now := time.Now().Unix()
	for i := int64(1); i <= 5; i++ {
		a.Save(archiveMsg(i, "public-1", now-100+i))
	}

	got := a.Recent("public-1", 2)
	require.Len(t, got, 2)
	// The limit keeps the newest rows.
	require.Equal(t, int64(4), got[0].ID)
	require.Equal(t, int64(5), got[1].ID)
}

func TestArchiveMemoryFallbackBounded(t *testing.T) {
	// The parent directory does not exist, so SQLite cannot create the
	// file and the archive degrades to its in-memory buffer.
	a := NewArchive(filepath.Join(t.TempDir(), "missing", "messages.db"))
	defer a.Close()

	now := time.Now().Unix()
	for i := int64(1); i <= fallbackCap+10; i++ {
		a.Save(archiveMsg(i, "public-1", now-1000+i))
	}

	got := a.Recent("public-1", fallbackCap+10)
	require.Len(t, got, fallbackCap)
	require.Equal(t, int64(11), got[0].ID, "oldest entries drop past the cap")
	require.Equal(t, int64(fallbackCap+10), got[len(got)-1].ID)
}

func TestArchivePrunesExpiredRowsOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")

	a := NewArchive(path)
	stale := archiveMsg(1, "public-1", time.Now().Add(-48*time.Hour).Unix())
	fresh := archiveMsg(2, "public-1", time.Now().Unix())
	a.Save(stale)
	a.Save(fresh)
	require.NoError(t, a.Close())

	// Reopening prunes rows older than the server's retention window.
	b := NewArchive(path)
	defer b.Close()
	got := b.Recent("public-1", 10)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)
}
