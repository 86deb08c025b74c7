// Package ledger keeps the immutable version history of drafts. Snapshots are
// hash-gated so a steady autosave heartbeat with nothing new to record does
// not grow the history.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"draftkeep/internal/draft/model"
	"draftkeep/pkg/logger"

	"github.com/google/uuid"
)

// DefaultAutoCap bounds AUTO_INTERVAL snapshots kept per draft. Manual,
// publish and restore snapshots are never pruned.
const DefaultAutoCap = 50

type Ledger struct {
	DB      *sql.DB
	AutoCap int
}

func New(db *sql.DB) *Ledger {
	return &Ledger{DB: db, AutoCap: DefaultAutoCap}
}

const snapshotColumns = `id, COALESCE(draft_id::text, ''), version_number, reason, title, body, excerpt, meta, content_hash, created_at`

// Snapshot records the given content unless it is a duplicate of the most
// recent snapshot for this draft. RESTORE snapshots are never gated: rolling
// back must itself stay undoable even when content happens to match.
// Returns the id of the snapshot now representing this content.
func (l *Ledger) Snapshot(draftID string, f model.Fields, versionNumber int64, reason string) (string, error) {
	hash := f.Hash()

	if reason != model.ReasonRestore {
		var lastID, lastHash string
		err := l.DB.QueryRow(`SELECT id, content_hash FROM draft_snapshots WHERE draft_id = $1 ORDER BY created_at DESC, version_number DESC LIMIT 1`, draftID).
			Scan(&lastID, &lastHash)
		if err != nil && err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to read latest snapshot for draft %s: %v", draftID, err)
			return "", err
		}
		if err == nil && lastHash == hash {
			return lastID, nil
		}
	}

	id := uuid.NewString()
	_, err := l.DB.Exec(`INSERT INTO draft_snapshots (id, draft_id, version_number, reason, title, body, excerpt, meta, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		id, draftID, versionNumber, reason, f.Title, f.Body, f.Excerpt, []byte(f.Meta), hash)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert snapshot for draft %s: %v", draftID, err)
		return "", err
	}

	if reason == model.ReasonAutoInterval {
		if err := l.pruneAutoInterval(draftID); err != nil {
			// Retention is best-effort; the snapshot itself is safe.
			logger.Sugar.Warnf("Failed to prune auto snapshots for draft %s: %v", draftID, err)
		}
	}
	return id, nil
}

func (l *Ledger) pruneAutoInterval(draftID string) error {
	_, err := l.DB.Exec(`DELETE FROM draft_snapshots
		WHERE draft_id = $1 AND reason = $2 AND id NOT IN (
			SELECT id FROM draft_snapshots
			WHERE draft_id = $1 AND reason = $2
			ORDER BY created_at DESC, version_number DESC LIMIT $3
		)`, draftID, model.ReasonAutoInterval, l.AutoCap)
	return err
}

// List returns all snapshots for a draft, newest first, annotated with a
// human-facing age bucket.
func (l *Ledger) List(draftID string) ([]model.VersionSnapshot, error) {
	rows, err := l.DB.Query(`SELECT `+snapshotColumns+` FROM draft_snapshots WHERE draft_id = $1 ORDER BY created_at DESC, version_number DESC`, draftID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list snapshots for draft %s: %v", draftID, err)
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	snapshots := []model.VersionSnapshot{}
	for rows.Next() {
		var s model.VersionSnapshot
		var meta []byte
		if err := rows.Scan(&s.ID, &s.DraftID, &s.VersionNumber, &s.Reason,
			&s.Title, &s.Body, &s.Excerpt, &meta, &s.ContentHash, &s.CreatedAt); err != nil {
			continue
		}
		s.Meta = meta
		s.Age = AgeBucket(now, s.CreatedAt)
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func (l *Ledger) Get(snapshotID string) (*model.VersionSnapshot, error) {
	var s model.VersionSnapshot
	var meta []byte
	err := l.DB.QueryRow(`SELECT `+snapshotColumns+` FROM draft_snapshots WHERE id = $1`, snapshotID).
		Scan(&s.ID, &s.DraftID, &s.VersionNumber, &s.Reason,
			&s.Title, &s.Body, &s.Excerpt, &meta, &s.ContentHash, &s.CreatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to get snapshot %s: %v", snapshotID, err)
		}
		return nil, err
	}
	s.Meta = meta
	return &s, nil
}

// Delete removes one snapshot row. Used to retract a RESTORE snapshot whose
// rollback lost the version race and never happened.
func (l *Ledger) Delete(snapshotID string) error {
	_, err := l.DB.Exec(`DELETE FROM draft_snapshots WHERE id = $1`, snapshotID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete snapshot %s: %v", snapshotID, err)
	}
	return err
}

// DeleteForDraft removes the whole snapshot lineage of a draft. Only the
// owner-initiated discard flow calls this.
func (l *Ledger) DeleteForDraft(draftID string) error {
	_, err := l.DB.Exec(`DELETE FROM draft_snapshots WHERE draft_id = $1`, draftID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete snapshots for draft %s: %v", draftID, err)
	}
	return err
}

// AgeBucket renders a timestamp as a rough human-facing age.
func AgeBucket(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
