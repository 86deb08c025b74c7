package service

import (
	"database/sql"
	"testing"
	"time"

	"draftkeep/internal/draft/ledger"
	"draftkeep/internal/draft/model"
	"draftkeep/internal/draft/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*DraftService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	svc := NewDraftService(repository.NewDraftRepository(db), ledger.New(db), nil)
	return svc, mock, func() { db.Close() }
}

var draftCols = []string{
	"id", "owner_id", "session_id", "kind", "name", "title", "body", "excerpt",
	"meta", "post_id", "version", "content_hash", "updated_at", "last_opened_at",
}

func draftRow(id, owner, session, kind, title string, version int64, hash string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(draftCols).
		AddRow(id, owner, session, kind, "", title, "", "", []byte(nil), "", version, hash, now, now)
}

func TestPushCreatesAutoDraftAtVersionOne(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	mock.ExpectQuery(`SELECT .* FROM drafts WHERE owner_id = \$1 AND session_id = \$2 AND kind = 'auto'`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO drafts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, content_hash FROM draft_snapshots`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resp, err := svc.Push("u1", model.PushRequest{
		SessionID: "s1",
		Fields:    model.Fields{Title: "Hello"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.DraftID)
	assert.Equal(t, int64(1), resp.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushCreateRaceFallsBackToExistingSlot(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	// Two tabs of one session race their first push: this caller sees no
	// slot, inserts, and loses to the partial unique index.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE owner_id = \$1 AND session_id = \$2 AND kind = 'auto'`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO drafts`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE owner_id = \$1 AND session_id = \$2 AND kind = 'auto'`).
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "Theirs", 1, "h1"))
	mock.ExpectQuery(`WHERE id = \$6`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectQuery(`SELECT id, content_hash FROM draft_snapshots`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	resp, err := svc.Push("u1", model.PushRequest{
		SessionID: "s1",
		Fields:    model.Fields{Title: "Mine"},
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", resp.DraftID, "the sibling's slot is the session's slot")
	assert.Equal(t, int64(2), resp.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushRejectsEmptyContent(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	// Placeholder markup is not content; the store is never touched.
	_, err := svc.Push("u1", model.PushRequest{
		SessionID: "s1",
		Fields:    model.Fields{Body: "<p><br></p>"},
	})
	assert.ErrorIs(t, err, model.ErrEmptyContent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushConflictOnStaleVersion(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	// The caller holds version 3 but another writer already produced 4.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "Old", 4, "h"))
	mock.ExpectQuery(`WHERE id = \$6 AND version = \$7`).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Push("u1", model.PushRequest{
		DraftID:   "d1",
		Version:   3,
		SessionID: "s1",
		Fields:    model.Fields{Title: "Mine"},
	})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushConflictOnDiscardedDraft(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	// The id was discarded in another tab; the store no longer recognizes
	// it, so the stale writer must reconcile.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Push("u1", model.PushRequest{
		DraftID:   "gone",
		Version:   2,
		SessionID: "s1",
		Fields:    model.Fields{Title: "Mine"},
	})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushDeduplicatesUnchangedSnapshots(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	fields := model.Fields{Title: "Hello"}

	// Accepted push whose content matches the latest snapshot: the version
	// advances but no second snapshot is recorded.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "Hello", 5, fields.Hash()))
	mock.ExpectQuery(`WHERE id = \$6 AND version = \$7`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(6)))
	mock.ExpectQuery(`SELECT id, content_hash FROM draft_snapshots`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content_hash"}).AddRow("snap-1", fields.Hash()))

	resp, err := svc.Push("u1", model.PushRequest{
		DraftID:   "d1",
		Version:   5,
		SessionID: "s1",
		Fields:    fields,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), resp.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteTwiceRecordsOneSnapshot(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	fields := model.Fields{Title: "My Post"}
	hash := fields.Hash()

	// First "Save Draft": upsert plus a MANUAL_SAVE snapshot.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "My Post", 3, hash))
	mock.ExpectExec(`UPDATE drafts SET last_opened_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`ON CONFLICT \(owner_id, name\) WHERE kind = .manual.`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow("m1", int64(1)))
	mock.ExpectQuery(`SELECT id, content_hash FROM draft_snapshots`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Second save with unchanged content: succeeds, hash-gated, nothing new.
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "My Post", 3, hash))
	mock.ExpectExec(`UPDATE drafts SET last_opened_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`ON CONFLICT \(owner_id, name\) WHERE kind = .manual.`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow("m1", int64(2)))
	mock.ExpectQuery(`SELECT id, content_hash FROM draft_snapshots`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content_hash"}).AddRow("snap-1", hash))

	req := model.PromoteRequest{DraftID: "d1", Name: "My Post"}
	first, err := svc.PromoteToManual("u1", req)
	require.NoError(t, err)
	second, err := svc.PromoteToManual("u1", req)
	require.NoError(t, err)
	assert.Equal(t, first.DraftID, second.DraftID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreSnapshotKeepsForwardHistory(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	snapCols := []string{"id", "draft_id", "version_number", "reason", "title", "body", "excerpt", "meta", "content_hash", "created_at"}

	mock.ExpectQuery(`SELECT .* FROM draft_snapshots WHERE id = \$1`).
		WithArgs("snap-1").
		WillReturnRows(sqlmock.NewRows(snapCols).
			AddRow("snap-1", "d1", int64(2), model.ReasonAutoInterval, "Older title", "", "", []byte(nil), "h2", time.Now()))
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "Current title", 7, "h7"))
	mock.ExpectExec(`UPDATE drafts SET last_opened_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The content being replaced is captured first, ungated, so the
	// rollback is itself undoable.
	mock.ExpectExec(`INSERT INTO draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`WHERE id = \$6 AND version = \$7`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(8)))

	d, err := svc.RestoreSnapshot("u1", "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "Older title", d.Title)
	assert.Equal(t, int64(8), d.Version, "lineage continues forward, not reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreSnapshotConflictRetractsItsMarker(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	snapCols := []string{"id", "draft_id", "version_number", "reason", "title", "body", "excerpt", "meta", "content_hash", "created_at"}

	mock.ExpectQuery(`SELECT .* FROM draft_snapshots WHERE id = \$1`).
		WithArgs("snap-1").
		WillReturnRows(sqlmock.NewRows(snapCols).
			AddRow("snap-1", "d1", int64(2), model.ReasonAutoInterval, "Older title", "", "", []byte(nil), "h2", time.Now()))
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(draftRow("d1", "u1", "s1", "auto", "Current title", 7, "h7"))
	mock.ExpectExec(`UPDATE drafts SET last_opened_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO draft_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The swap loses to a concurrent writer.
	mock.ExpectQuery(`WHERE id = \$6 AND version = \$7`).
		WillReturnError(sql.ErrNoRows)
	// The pre-restore marker describes a rollback that never happened, so it
	// goes away with the failure.
	mock.ExpectExec(`DELETE FROM draft_snapshots WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.RestoreSnapshot("u1", "snap-1")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscardBySessionRemovesSlotAndLineage(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	mock.ExpectQuery(`DELETE FROM drafts WHERE owner_id = \$1 AND session_id = \$2 AND kind = 'auto' RETURNING id`).
		WithArgs("u1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1"))
	mock.ExpectExec(`DELETE FROM draft_snapshots WHERE draft_id = \$1`).
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := svc.Discard("u1", model.DiscardRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscardMissingSlotIsNotAnError(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()

	mock.ExpectQuery(`DELETE FROM drafts WHERE owner_id = \$1 AND session_id = \$2 AND kind = 'auto' RETURNING id`).
		WillReturnError(sql.ErrNoRows)

	err := svc.Discard("u1", model.DiscardRequest{SessionID: "s-empty"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
