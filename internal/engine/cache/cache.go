// Package cache is the client-local draft slot: one file holding the most
// recent in-progress document, written synchronously on every edit. It is the
// last line of defense against losing work to a reload or crash, and a
// convenience layer only — every failure here is swallowed.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"draftkeep/internal/draft/model"
	"draftkeep/pkg/logger"
)

const slotFile = "draftkeep.json"

// Entry is the persisted slot: the full field set plus the draft identity
// pointers needed to continue the server lineage after a reload.
type Entry struct {
	model.Fields
	DraftID   string    `json:"draft_id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
}

type Cache struct {
	path string
}

// New returns a cache writing to a fixed slot under dir. The slot is not
// per-session: there is exactly one "most recent local draft".
func New(dir string) *Cache {
	return &Cache{path: filepath.Join(dir, slotFile)}
}

// Write stores the entry and returns the timestamp it was stamped with.
// Best-effort: storage failures degrade silently to server-only persistence.
func (c *Cache) Write(e Entry) time.Time {
	e.SavedAt = time.Now()

	data, err := json.Marshal(e)
	if err != nil {
		return e.SavedAt
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		logger.Sugar.Debugf("Local cache write skipped: %v", err)
		return e.SavedAt
	}

	// Write-then-rename so a crash mid-write never corrupts the slot.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Sugar.Debugf("Local cache write skipped: %v", err)
		return e.SavedAt
	}
	if err := os.Rename(tmp, c.path); err != nil {
		logger.Sugar.Debugf("Local cache rename failed: %v", err)
	}
	return e.SavedAt
}

// Read returns the stored entry, or nil if the slot is absent, malformed, or
// holds no real content (placeholder markup does not count).
func (c *Cache) Read() *Entry {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil
	}
	if !e.HasContent() {
		return nil
	}
	return &e
}

// Clear empties the slot. Failures are swallowed like every other cache path.
func (c *Cache) Clear() {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		logger.Sugar.Debugf("Local cache clear failed: %v", err)
	}
}
