// Package restore reconciles the local cache and the server's AUTO draft at
// editor load time into at most one user decision. Nothing is ever restored
// silently: the user confirms, keeps for later, or discards.
package restore

import (
	"context"
	"time"

	"draftkeep/internal/engine/cache"

	"draftkeep/internal/draft/model"
)

// Store is the slice of the draft store the workflow needs.
type Store interface {
	LatestForSession(ctx context.Context, sessionID string) (*model.SessionDrafts, error)
	Discard(ctx context.Context, req model.DiscardRequest) error
}

type Source int

const (
	SourceLocal Source = iota
	SourceServer
)

type Outcome int

const (
	// OutcomeRestore loads the candidate into the editor and continues its
	// server lineage.
	OutcomeRestore Outcome = iota
	// OutcomeKeepForLater dismisses the prompt; the candidate stays
	// available next time the workflow runs.
	OutcomeKeepForLater
	// OutcomeDiscard drops the AUTO slot, clears the local cache, and
	// starts a brand-new lineage.
	OutcomeDiscard
)

// Candidate is the single restorable draft offered to the user.
type Candidate struct {
	Source Source
	model.Fields
	DraftID string
	Version int64
	SavedAt time.Time
}

// DefaultFreshness is how old a local copy may be and still be offered.
const DefaultFreshness = 24 * time.Hour

type Workflow struct {
	Cache     *cache.Cache
	Store     Store
	Freshness time.Duration
}

func New(c *cache.Cache, s Store) *Workflow {
	return &Workflow{Cache: c, Store: s, Freshness: DefaultFreshness}
}

// Resolve picks the restore candidate, or nil when editing should start from
// a blank document with no prompt. Local wins when it exists, is fresh, and
// is at least as recent as the server copy; unauthenticated sessions have no
// server copy to compare against.
func (w *Workflow) Resolve(ctx context.Context, authed bool, sessionID string) (*Candidate, error) {
	local := w.Cache.Read()
	localFresh := local != nil && time.Since(local.SavedAt) <= w.Freshness

	var serverAuto *model.Draft
	if authed {
		latest, err := w.Store.LatestForSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Auto != nil && latest.Auto.HasContent() {
			serverAuto = latest.Auto
		}
	}

	if localFresh && (serverAuto == nil || !local.SavedAt.Before(serverAuto.UpdatedAt)) {
		return &Candidate{
			Source:  SourceLocal,
			Fields:  local.Fields,
			DraftID: local.DraftID,
			Version: local.Version,
			SavedAt: local.SavedAt,
		}, nil
	}

	if serverAuto != nil {
		return &Candidate{
			Source:  SourceServer,
			Fields:  serverAuto.Fields,
			DraftID: serverAuto.ID,
			Version: serverAuto.Version,
			SavedAt: serverAuto.UpdatedAt,
		}, nil
	}

	return nil, nil
}

// Discard executes the discard outcome: the server AUTO slot goes away (when
// one is known and we are authenticated), the local cache is cleared. The
// caller rotates the session id so an unrelated lineage begins.
func (w *Workflow) Discard(ctx context.Context, cand *Candidate, authed bool, sessionID string) error {
	if authed {
		req := model.DiscardRequest{SessionID: sessionID}
		if cand != nil && cand.DraftID != "" {
			req = model.DiscardRequest{DraftID: cand.DraftID}
		}
		if err := w.Store.Discard(ctx, req); err != nil {
			return err
		}
	}
	w.Cache.Clear()
	return nil
}
