package database

import (
	"database/sql"

	"draftkeep/pkg/logger"
)

// Draft table DDL. The partial unique indexes carry two invariants: one AUTO
// slot per (owner, session), and manual draft names unique per owner.
const (
	createDraftsTable = `
		CREATE TABLE IF NOT EXISTS drafts (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			excerpt TEXT NOT NULL DEFAULT '',
			meta JSONB,
			post_id TEXT,
			version BIGINT NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`

	createAutoSlotIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS drafts_auto_slot_idx
		ON drafts (owner_id, session_id) WHERE kind = 'auto'`

	createManualNameIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS drafts_manual_name_idx
		ON drafts (owner_id, name) WHERE kind = 'manual'`

	// ON DELETE SET NULL: a snapshot may outlive its draft (publish tears
	// the draft down but keeps the final PUBLISH snapshot).
	createSnapshotsTable = `
		CREATE TABLE IF NOT EXISTS draft_snapshots (
			id UUID PRIMARY KEY,
			draft_id UUID REFERENCES drafts(id) ON DELETE SET NULL,
			version_number BIGINT NOT NULL,
			reason TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			excerpt TEXT NOT NULL DEFAULT '',
			meta JSONB,
			content_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`

	createSnapshotsIndex = `
		CREATE INDEX IF NOT EXISTS draft_snapshots_draft_idx
		ON draft_snapshots (draft_id, created_at DESC)`
)

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		createDraftsTable,
		createAutoSlotIndex,
		createManualNameIndex,
		createSnapshotsTable,
		createSnapshotsIndex,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			logger.Sugar.Errorf("Failed to apply schema statement: %v", err)
			return err
		}
	}
	return nil
}
