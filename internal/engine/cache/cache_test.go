package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"draftkeep/internal/draft/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundtrip(t *testing.T) {
	c := New(t.TempDir())

	ts := c.Write(Entry{
		Fields:    model.Fields{Title: "Hello", Body: "<p>World</p>"},
		DraftID:   "d1",
		Version:   3,
		SessionID: "s1",
	})
	assert.WithinDuration(t, time.Now(), ts, time.Second)

	got := c.Read()
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "<p>World</p>", got.Body)
	assert.Equal(t, "d1", got.DraftID)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, ts.Unix(), got.SavedAt.Unix())
}

func TestWriteOverwritesPreviousSlot(t *testing.T) {
	c := New(t.TempDir())

	c.Write(Entry{Fields: model.Fields{Title: "First"}, SessionID: "s1"})
	c.Write(Entry{Fields: model.Fields{Title: "Second"}, SessionID: "s1"})

	got := c.Read()
	require.NotNil(t, got)
	assert.Equal(t, "Second", got.Title)
}

func TestReadAbsentSlot(t *testing.T) {
	c := New(t.TempDir())
	assert.Nil(t, c.Read())
}

func TestReadMalformedSlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, slotFile), []byte("{not json"), 0o644))

	assert.Nil(t, New(dir).Read())
}

func TestReadSkipsPlaceholderContent(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(Entry{
		Fields:    model.Fields{Body: "<p><br></p>"},
		SessionID: "s1",
		SavedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, slotFile), data, 0o644))

	assert.Nil(t, New(dir).Read(), "an empty document is not worth restoring")
}

func TestClear(t *testing.T) {
	c := New(t.TempDir())

	c.Write(Entry{Fields: model.Fields{Title: "Hello"}, SessionID: "s1"})
	require.NotNil(t, c.Read())

	c.Clear()
	assert.Nil(t, c.Read())

	// Clearing an already-empty slot is fine.
	c.Clear()
}
