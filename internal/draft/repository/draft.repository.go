package repository

import (
	"database/sql"

	"draftkeep/internal/draft/model"
	"draftkeep/pkg/logger"
)

type DraftRepository struct {
	DB *sql.DB
}

func NewDraftRepository(db *sql.DB) *DraftRepository {
	return &DraftRepository{DB: db}
}

const draftColumns = `id, owner_id, session_id, kind, COALESCE(name, ''), title, body, excerpt, meta, COALESCE(post_id, ''), version, content_hash, updated_at, last_opened_at`

func scanDraft(row *sql.Row) (*model.Draft, error) {
	var d model.Draft
	var meta []byte
	err := row.Scan(&d.ID, &d.OwnerID, &d.SessionID, &d.Kind, &d.Name,
		&d.Title, &d.Body, &d.Excerpt, &meta, &d.PostID,
		&d.Version, &d.ContentHash, &d.UpdatedAt, &d.LastOpenedAt)
	if err != nil {
		return nil, err
	}
	d.Meta = meta
	return &d, nil
}

// CreateAuto inserts a brand-new AUTO draft at version 1. The partial unique
// index on (owner_id, session_id) enforces the single-slot invariant.
func (r *DraftRepository) CreateAuto(d *model.Draft) error {
	_, err := r.DB.Exec(`INSERT INTO drafts (id, owner_id, session_id, kind, title, body, excerpt, meta, version, content_hash, updated_at, last_opened_at)
		VALUES ($1, $2, $3, 'auto', $4, $5, $6, $7, 1, $8, NOW(), NOW())`,
		d.ID, d.OwnerID, d.SessionID, d.Title, d.Body, d.Excerpt, []byte(d.Meta), d.ContentHash)
	if err != nil {
		logger.Sugar.Errorf("Failed to create auto draft for session %s: %v", d.SessionID, err)
	}
	return err
}

// PushContent replaces the content of a draft if and only if the stored
// version still equals expectedVersion. Check and increment happen in one
// statement; zero rows means the caller lost the race (sql.ErrNoRows).
func (r *DraftRepository) PushContent(draftID string, expectedVersion int64, f model.Fields, hash string) (int64, error) {
	var newVersion int64
	err := r.DB.QueryRow(`UPDATE drafts SET title = $1, body = $2, excerpt = $3, meta = $4, content_hash = $5, version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7
		RETURNING version`,
		f.Title, f.Body, f.Excerpt, []byte(f.Meta), hash, draftID, expectedVersion).Scan(&newVersion)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to push content for draft %s: %v", draftID, err)
	}
	return newVersion, err
}

// BumpContent replaces content without a version precondition. Used for the
// accept path where the caller supplied no version and the slot was looked up
// by session, so the store is the only arbiter of the counter.
func (r *DraftRepository) BumpContent(draftID string, f model.Fields, hash string) (int64, error) {
	var newVersion int64
	err := r.DB.QueryRow(`UPDATE drafts SET title = $1, body = $2, excerpt = $3, meta = $4, content_hash = $5, version = version + 1, updated_at = NOW()
		WHERE id = $6
		RETURNING version`,
		f.Title, f.Body, f.Excerpt, []byte(f.Meta), hash, draftID).Scan(&newVersion)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to bump content for draft %s: %v", draftID, err)
	}
	return newVersion, err
}

func (r *DraftRepository) Get(draftID string) (*model.Draft, error) {
	d, err := scanDraft(r.DB.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, draftID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get draft %s: %v", draftID, err)
	}
	return d, err
}

func (r *DraftRepository) GetAutoForSession(ownerID, sessionID string) (*model.Draft, error) {
	d, err := scanDraft(r.DB.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE owner_id = $1 AND session_id = $2 AND kind = 'auto'`, ownerID, sessionID))
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get auto draft for session %s: %v", sessionID, err)
	}
	return d, err
}

func (r *DraftRepository) ListManual(ownerID string) ([]model.Draft, error) {
	rows, err := r.DB.Query(`SELECT `+draftColumns+` FROM drafts WHERE owner_id = $1 AND kind = 'manual' ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list manual drafts for owner %s: %v", ownerID, err)
		return nil, err
	}
	defer rows.Close()

	drafts := []model.Draft{}
	for rows.Next() {
		var d model.Draft
		var meta []byte
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.SessionID, &d.Kind, &d.Name,
			&d.Title, &d.Body, &d.Excerpt, &meta, &d.PostID,
			&d.Version, &d.ContentHash, &d.UpdatedAt, &d.LastOpenedAt); err != nil {
			continue
		}
		d.Meta = meta
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// UpsertManual creates or refreshes the named manual copy. The manual slot
// keeps its own version counter, independent of the AUTO lineage it was
// promoted from.
func (r *DraftRepository) UpsertManual(d *model.Draft) (string, int64, error) {
	var id string
	var version int64
	err := r.DB.QueryRow(`INSERT INTO drafts (id, owner_id, session_id, kind, name, title, body, excerpt, meta, version, content_hash, updated_at, last_opened_at)
		VALUES ($1, $2, $3, 'manual', $4, $5, $6, $7, $8, 1, $9, NOW(), NOW())
		ON CONFLICT (owner_id, name) WHERE kind = 'manual'
		DO UPDATE SET title = $5, body = $6, excerpt = $7, meta = $8, content_hash = $9, version = drafts.version + 1, updated_at = NOW()
		RETURNING id, version`,
		d.ID, d.OwnerID, d.SessionID, d.Name, d.Title, d.Body, d.Excerpt, []byte(d.Meta), d.ContentHash).Scan(&id, &version)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert manual draft %q for owner %s: %v", d.Name, d.OwnerID, err)
	}
	return id, version, err
}

func (r *DraftRepository) Delete(draftID string) (int64, error) {
	result, err := r.DB.Exec(`DELETE FROM drafts WHERE id = $1`, draftID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete draft %s: %v", draftID, err)
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAutoBySession removes the AUTO slot for a session and returns the id
// it held, so the caller can purge the snapshot lineage too.
func (r *DraftRepository) DeleteAutoBySession(ownerID, sessionID string) (string, error) {
	var id string
	err := r.DB.QueryRow(`DELETE FROM drafts WHERE owner_id = $1 AND session_id = $2 AND kind = 'auto' RETURNING id`, ownerID, sessionID).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to delete auto draft for session %s: %v", sessionID, err)
	}
	return id, err
}

func (r *DraftRepository) TouchLastOpened(draftID string) error {
	_, err := r.DB.Exec(`UPDATE drafts SET last_opened_at = NOW() WHERE id = $1`, draftID)
	if err != nil {
		logger.Sugar.Errorf("Failed to touch last_opened_at for draft %s: %v", draftID, err)
	}
	return err
}

// AttachPost records the published document a draft now belongs to.
func (r *DraftRepository) AttachPost(draftID, postID string) error {
	_, err := r.DB.Exec(`UPDATE drafts SET post_id = $1, updated_at = NOW() WHERE id = $2`, postID, draftID)
	if err != nil {
		logger.Sugar.Errorf("Failed to attach post %s to draft %s: %v", postID, draftID, err)
	}
	return err
}
