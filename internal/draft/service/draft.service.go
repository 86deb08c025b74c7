package service

import (
	"database/sql"
	"encoding/json"
	"errors"

	"draftkeep/internal/draft/ledger"
	"draftkeep/internal/draft/model"
	"draftkeep/internal/draft/repository"
	"draftkeep/socket"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// isUniqueViolation reports a postgres unique-index violation (code 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type DraftService struct {
	Repo   *repository.DraftRepository
	Ledger *ledger.Ledger
	Hub    *socket.Hub
}

func NewDraftService(repo *repository.DraftRepository, ledger *ledger.Ledger, hub *socket.Hub) *DraftService {
	return &DraftService{Repo: repo, Ledger: ledger, Hub: hub}
}

// Push persists one client write. A push without a draft id binds to (or
// creates) the session's AUTO slot; a push carrying an id and version is a
// compare-and-increment against the stored counter and is rejected as
// ErrConflict when another writer got there first.
func (s *DraftService) Push(ownerID string, req model.PushRequest) (*model.PushResponse, error) {
	if !req.Fields.HasContent() {
		// An empty draft is never materialized server-side.
		return nil, model.ErrEmptyContent
	}
	if req.SessionID == "" {
		return nil, errors.New("session id required")
	}

	hash := req.Fields.Hash()
	var draftID string
	var version int64

	if req.DraftID == "" {
		existing, err := s.Repo.GetAutoForSession(ownerID, req.SessionID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}

		if existing == nil {
			d := &model.Draft{
				ID:          uuid.NewString(),
				OwnerID:     ownerID,
				SessionID:   req.SessionID,
				Fields:      req.Fields,
				ContentHash: hash,
			}
			switch createErr := s.Repo.CreateAuto(d); {
			case createErr == nil:
				draftID, version = d.ID, 1
			case isUniqueViolation(createErr):
				// A sibling tab created the slot between our read and our
				// insert. Its slot is the session's slot; write into it.
				existing, err = s.Repo.GetAutoForSession(ownerID, req.SessionID)
				if err != nil {
					return nil, err
				}
			default:
				return nil, createErr
			}
		}

		if existing != nil {
			// Caller lost its pointer (fresh tab, same session). The slot
			// already exists, the store alone arbitrates the counter.
			draftID = existing.ID
			version, err = s.Repo.BumpContent(existing.ID, req.Fields, hash)
			if err != nil {
				return nil, err
			}
		}
	} else {
		d, err := s.Repo.Get(req.DraftID)
		if err == sql.ErrNoRows {
			// Discarded in another tab: the store no longer recognizes the
			// id, so the stale writer must reconcile.
			return nil, model.ErrConflict
		}
		if err != nil {
			return nil, err
		}
		if d.OwnerID != ownerID {
			return nil, model.ErrNotFound
		}

		draftID = req.DraftID
		version, err = s.Repo.PushContent(req.DraftID, req.Version, req.Fields, hash)
		if err == sql.ErrNoRows {
			return nil, model.ErrConflict
		}
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.Ledger.Snapshot(draftID, req.Fields, version, model.ReasonAutoInterval); err != nil {
		// History is best-effort relative to the accepted write.
		return &model.PushResponse{DraftID: draftID, Version: version}, nil
	}

	s.notify(socket.DraftUpdateType, ownerID, "", map[string]interface{}{
		"draft_id": draftID, "version": version, "session_id": req.SessionID,
	})
	return &model.PushResponse{DraftID: draftID, Version: version}, nil
}

func (s *DraftService) Get(ownerID, draftID string) (*model.Draft, error) {
	d, err := s.Repo.Get(draftID)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	_ = s.Repo.TouchLastOpened(draftID)
	return d, nil
}

// LatestForSession is the restore workflow's one-shot read: the session's
// AUTO slot plus the most recently touched manual draft, either may be nil.
func (s *DraftService) LatestForSession(ownerID, sessionID string) (*model.SessionDrafts, error) {
	result := &model.SessionDrafts{}

	auto, err := s.Repo.GetAutoForSession(ownerID, sessionID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if auto != nil {
		_ = s.Repo.TouchLastOpened(auto.ID)
		result.Auto = auto
	}

	manuals, err := s.Repo.ListManual(ownerID)
	if err != nil {
		return nil, err
	}
	if len(manuals) > 0 {
		result.Manual = &manuals[0]
	}
	return result, nil
}

func (s *DraftService) ListManual(ownerID string) ([]model.Draft, error) {
	return s.Repo.ListManual(ownerID)
}

// Discard removes the AUTO slot and its snapshot lineage. Manual drafts are
// untouched. Discarding an already-absent slot is not an error.
func (s *DraftService) Discard(ownerID string, req model.DiscardRequest) error {
	var draftID string

	if req.DraftID != "" {
		d, err := s.Repo.Get(req.DraftID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if d.OwnerID != ownerID {
			return model.ErrNotFound
		}
		if d.Kind != model.KindAuto {
			return errors.New("only the auto draft can be discarded")
		}
		draftID = d.ID
	} else if req.SessionID != "" {
		id, err := s.Repo.DeleteAutoBySession(ownerID, req.SessionID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Ledger.DeleteForDraft(id); err != nil {
			return err
		}
		s.notify(socket.DraftDiscardType, ownerID, "", map[string]string{"draft_id": id})
		return nil
	} else {
		return errors.New("draft id or session id required")
	}

	if err := s.Ledger.DeleteForDraft(draftID); err != nil {
		return err
	}
	if _, err := s.Repo.Delete(draftID); err != nil {
		return err
	}
	s.notify(socket.DraftDiscardType, ownerID, "", map[string]string{"draft_id": draftID})
	return nil
}

// PromoteToManual is the explicit "Save Draft" action: the AUTO slot's
// current content becomes (or refreshes) an independently listed named copy.
// The AUTO lineage is not consumed.
func (s *DraftService) PromoteToManual(ownerID string, req model.PromoteRequest) (*model.PromoteResponse, error) {
	if req.Name == "" {
		return nil, errors.New("draft name required")
	}
	src, err := s.Get(ownerID, req.DraftID)
	if err != nil {
		return nil, err
	}

	manual := &model.Draft{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		SessionID:   src.SessionID,
		Name:        req.Name,
		Fields:      src.Fields,
		ContentHash: src.Fields.Hash(),
	}
	id, version, err := s.Repo.UpsertManual(manual)
	if err != nil {
		return nil, err
	}

	// Hash-gated: a second save with unchanged content succeeds for the
	// caller but records nothing new.
	if _, err := s.Ledger.Snapshot(id, src.Fields, version, model.ReasonManualSave); err != nil {
		return nil, err
	}
	return &model.PromoteResponse{DraftID: id}, nil
}

// Publish tears down the AUTO slot after a successful publish, leaving a
// final PUBLISH snapshot behind. Snapshots outlive the draft row.
func (s *DraftService) Publish(ownerID string, req model.PublishRequest) error {
	d, err := s.Get(ownerID, req.DraftID)
	if err != nil {
		return err
	}
	if d.Kind != model.KindAuto {
		return errors.New("only the auto draft can be published")
	}

	if req.PostID != "" {
		if err := s.Repo.AttachPost(d.ID, req.PostID); err != nil {
			return err
		}
	}
	if _, err := s.Ledger.Snapshot(d.ID, d.Fields, d.Version, model.ReasonPublish); err != nil {
		return err
	}
	if _, err := s.Repo.Delete(d.ID); err != nil {
		return err
	}
	s.notify(socket.DraftPublishType, ownerID, "", map[string]string{"draft_id": d.ID, "post_id": req.PostID})
	return nil
}

func (s *DraftService) History(ownerID, draftID string) ([]model.VersionSnapshot, error) {
	if _, err := s.Get(ownerID, draftID); err != nil {
		return nil, err
	}
	return s.Ledger.List(draftID)
}

// RestoreSnapshot rolls a draft back to a chosen snapshot without erasing
// forward history: the content being replaced is captured first as a RESTORE
// snapshot, then the draft adopts the chosen content under the next version
// number. Rolling back is itself undoable.
func (s *DraftService) RestoreSnapshot(ownerID, snapshotID string) (*model.Draft, error) {
	snap, err := s.Ledger.Get(snapshotID)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if snap.DraftID == "" {
		return nil, model.ErrNotFound
	}

	d, err := s.Get(ownerID, snap.DraftID)
	if err != nil {
		return nil, err
	}

	undoID, err := s.Ledger.Snapshot(d.ID, d.Fields, d.Version, model.ReasonRestore)
	if err != nil {
		return nil, err
	}

	newVersion, err := s.Repo.PushContent(d.ID, d.Version, snap.Fields, snap.Fields.Hash())
	if err == sql.ErrNoRows {
		// Another writer advanced the draft between read and restore. The
		// rollback never happened, so retract its RESTORE marker.
		_ = s.Ledger.Delete(undoID)
		return nil, model.ErrConflict
	}
	if err != nil {
		return nil, err
	}

	restored := *d
	restored.Fields = snap.Fields
	restored.ContentHash = snap.Fields.Hash()
	restored.Version = newVersion

	s.notify(socket.DraftUpdateType, ownerID, "", map[string]interface{}{
		"draft_id": d.ID, "version": newVersion, "session_id": d.SessionID,
	})
	return &restored, nil
}

func (s *DraftService) notify(msgType, ownerID, tabID string, payload interface{}) {
	if s.Hub == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Hub.Notify(socket.WSMessage{Type: msgType, OwnerID: ownerID, TabID: tabID, Payload: raw})
}
