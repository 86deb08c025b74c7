// Package engine is the client-side persistence engine an editor surface
// embeds: it owns the local cache, the save scheduler, the tab coordinator,
// the restore workflow, and the conflict handler, and talks to the server
// through the DraftStore interface. The surface feeds it field changes and
// lifecycle events; it hands back save status and decisions to present.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"draftkeep/internal/draft/model"
	"draftkeep/internal/engine/cache"
	"draftkeep/internal/engine/restore"
	"draftkeep/internal/engine/scheduler"
	"draftkeep/internal/engine/tablock"
	"draftkeep/pkg/logger"

	"github.com/google/uuid"
)

// DraftStore is the canonical per-identity draft record. pkg/apiclient
// implements it over HTTP; tests implement it in memory.
type DraftStore interface {
	Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error)
	Get(ctx context.Context, draftID string) (*model.Draft, error)
	LatestForSession(ctx context.Context, sessionID string) (*model.SessionDrafts, error)
	Discard(ctx context.Context, req model.DiscardRequest) error
	History(ctx context.Context, draftID string) ([]model.VersionSnapshot, error)
	RestoreSnapshot(ctx context.Context, snapshotID string) (*model.Draft, error)
}

const (
	PhaseIdle     = "idle"
	PhaseSaving   = "saving"
	PhaseSaved    = "saved"
	PhaseOffline  = "offline"
	PhaseConflict = "conflict"
)

// SaveStatus is what the surface renders next to the editor. SavedAt is set
// when Phase is "saved".
type SaveStatus struct {
	Phase   string    `json:"phase"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

type Config struct {
	// DataDir holds the local cache slot and the shared tab lock.
	DataDir     string
	Scheduler   scheduler.Config
	Lock        tablock.Config
	Freshness   time.Duration
	PushTimeout time.Duration
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:     dataDir,
		Scheduler:   scheduler.DefaultConfig(),
		Lock:        tablock.DefaultConfig(),
		Freshness:   restore.DefaultFreshness,
		PushTimeout: 10 * time.Second,
	}
}

type Engine struct {
	mu       sync.Mutex
	cfg      Config
	store    DraftStore
	cache    *cache.Cache
	sched    *scheduler.Scheduler
	lock     *tablock.Coordinator
	workflow *restore.Workflow

	sessionID string
	draftID   string
	version   int64
	fields    model.Fields

	savedAt    time.Time
	saving     bool
	conflicted bool
	online     bool
	authed     bool
	inFlight   bool
}

func New(store DraftStore, cfg Config) *Engine {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = restore.DefaultFreshness
	}

	c := cache.New(cfg.DataDir)
	e := &Engine{
		cfg:   cfg,
		store: store,
		cache: c,
		lock:  tablock.New(cfg.DataDir, cfg.Lock),
	}

	// The composition session survives reloads through the cache slot.
	if entry := c.Read(); entry != nil && entry.SessionID != "" {
		e.sessionID = entry.SessionID
	} else {
		e.sessionID = uuid.NewString()
	}

	e.sched = scheduler.New(cfg.Scheduler, scheduler.Callbacks{
		WriteLocal: e.writeLocal,
		MarkSaved:  e.markSaved,
		Push:       e.pushTrigger,
	})
	e.workflow = restore.New(c, store)
	e.workflow.Freshness = cfg.Freshness
	return e
}

func (e *Engine) Start() error {
	e.sched.Start()
	return e.lock.Start()
}

// Unload is the page-teardown hook: one last synchronous local write, one
// fire-and-forget push, release the tab lock.
func (e *Engine) Unload() {
	e.sched.Unload()
	e.sched.Stop()
	e.lock.Release()
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

func (e *Engine) Fields() model.Fields {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fields
}

func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
	e.sched.SetOnline(online)
}

func (e *Engine) SetAuthenticated(authed bool) {
	e.mu.Lock()
	e.authed = authed
	e.mu.Unlock()
	e.sched.SetAuthenticated(authed)
}

// Change receives one field-change event from the editor surface.
func (e *Engine) Change(f model.Fields) {
	e.mu.Lock()
	e.fields = f
	e.mu.Unlock()
	e.sched.Change()
}

func (e *Engine) Blur() { e.sched.Blur() }
func (e *Engine) Hide() { e.sched.Hide() }

// EditedElsewhere reports the advisory multi-tab signal for the UI banner.
func (e *Engine) EditedElsewhere() bool {
	return e.lock.EditedElsewhere()
}

func (e *Engine) Status() SaveStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.conflicted:
		return SaveStatus{Phase: PhaseConflict}
	case !e.online:
		return SaveStatus{Phase: PhaseOffline}
	case e.inFlight || e.saving:
		return SaveStatus{Phase: PhaseSaving}
	case !e.savedAt.IsZero():
		return SaveStatus{Phase: PhaseSaved, SavedAt: e.savedAt}
	default:
		return SaveStatus{Phase: PhaseIdle}
	}
}

// writeLocal snapshots the current state into the local slot. Called on every
// change and on debounce fire; always cheap, never fails loudly.
func (e *Engine) writeLocal() time.Time {
	e.mu.Lock()
	entry := cache.Entry{
		Fields:    e.fields,
		DraftID:   e.draftID,
		Version:   e.version,
		SessionID: e.sessionID,
	}
	e.mu.Unlock()
	return e.cache.Write(entry)
}

func (e *Engine) markSaved(ts time.Time) {
	e.mu.Lock()
	e.savedAt = ts
	e.mu.Unlock()
}

// pushTrigger is the single funnel for all three push triggers (heartbeat,
// blur/hide, unload). A push already in flight suppresses a second one; the
// skipped trigger is covered by the next scheduled attempt, which always
// pushes the current in-memory state. That keeps version updates ordered
// without a queue.
func (e *Engine) pushTrigger(fireAndForget bool) {
	e.mu.Lock()
	if e.conflicted || !e.online || !e.authed || !e.fields.HasContent() {
		e.mu.Unlock()
		return
	}
	req := model.PushRequest{
		DraftID:   e.draftID,
		Version:   e.version,
		SessionID: e.sessionID,
		Fields:    e.fields,
	}

	if fireAndForget {
		e.mu.Unlock()
		// Keepalive semantics: the page may be gone before any response.
		// The local cache is the fallback of record.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := e.store.Push(ctx, req); err != nil {
				logger.Sugar.Debugf("Unload push not confirmed: %v", err)
			}
		}()
		return
	}

	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.saving = true
	e.mu.Unlock()

	go e.doPush(req)
}

func (e *Engine) doPush(req model.PushRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PushTimeout)
	resp, err := e.store.Push(ctx, req)
	cancel()

	e.mu.Lock()
	e.inFlight = false
	e.saving = false
	switch {
	case err == nil:
		e.draftID = resp.DraftID
		e.version = resp.Version
		e.savedAt = time.Now()
	case errors.Is(err, model.ErrConflict):
		// Another writer got there first. Stop silent retries and let the
		// user pick a side; local edits stay in the editor and the cache.
		e.conflicted = true
	default:
		// Network blip: current in-memory state is simply the next thing
		// pushed on the following trigger. No replay queue.
		logger.Sugar.Debugf("Draft push failed, will retry on next trigger: %v", err)
	}
	e.mu.Unlock()

	if err == nil {
		e.writeLocal()
	}
}

// LoadLatest resolves a conflict in the server's favor: fetch the current
// draft, overwrite local state and cache, adopt its version, resume syncing.
func (e *Engine) LoadLatest(ctx context.Context) error {
	e.mu.Lock()
	draftID := e.draftID
	e.mu.Unlock()
	if draftID == "" {
		return errors.New("no draft to load")
	}

	d, err := e.store.Get(ctx, draftID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.fields = d.Fields
	e.version = d.Version
	e.conflicted = false
	e.mu.Unlock()
	e.writeLocal()
	return nil
}

// KeepEditing dismisses the conflict banner without reconciling. Local edits
// are preserved everywhere, but server pushes stay disabled until the user
// resolves the divergence — never a silent overwrite in either direction.
func (e *Engine) KeepEditing() {
	// The conflicted flag intentionally stays set.
}

// Conflicted reports whether pushes are currently suspended on a version
// conflict.
func (e *Engine) Conflicted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicted
}

// ResolveStartup runs the load-time restore workflow. A nil candidate means
// editing starts from a blank document with no prompt.
func (e *Engine) ResolveStartup(ctx context.Context) (*restore.Candidate, error) {
	e.mu.Lock()
	authed, sessionID := e.authed, e.sessionID
	e.mu.Unlock()
	return e.workflow.Resolve(ctx, authed, sessionID)
}

// ApplyStartup executes the user's decision on the startup candidate.
func (e *Engine) ApplyStartup(ctx context.Context, cand *restore.Candidate, outcome restore.Outcome) error {
	switch outcome {
	case restore.OutcomeRestore:
		if cand == nil {
			return errors.New("no candidate to restore")
		}
		e.mu.Lock()
		e.fields = cand.Fields
		e.draftID = cand.DraftID
		e.version = cand.Version
		e.mu.Unlock()
		e.writeLocal()
		return nil

	case restore.OutcomeKeepForLater:
		return nil

	case restore.OutcomeDiscard:
		e.mu.Lock()
		authed, sessionID := e.authed, e.sessionID
		e.mu.Unlock()
		if err := e.workflow.Discard(ctx, cand, authed, sessionID); err != nil {
			return err
		}
		// A brand-new, unrelated AUTO lineage begins.
		e.mu.Lock()
		e.sessionID = uuid.NewString()
		e.draftID = ""
		e.version = 0
		e.fields = model.Fields{}
		e.conflicted = false
		e.savedAt = time.Time{}
		e.mu.Unlock()
		return nil

	default:
		return errors.New("unknown restore outcome")
	}
}

// History serves the version-history panel.
func (e *Engine) History(ctx context.Context) ([]model.VersionSnapshot, error) {
	e.mu.Lock()
	draftID := e.draftID
	e.mu.Unlock()
	if draftID == "" {
		return []model.VersionSnapshot{}, nil
	}
	return e.store.History(ctx, draftID)
}

// RestoreVersion rolls the draft back to a snapshot and adopts the returned
// state, continuing the version lineage forward.
func (e *Engine) RestoreVersion(ctx context.Context, snapshotID string) (*model.Draft, error) {
	d, err := e.store.RestoreSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.fields = d.Fields
	e.draftID = d.ID
	e.version = d.Version
	e.mu.Unlock()
	e.writeLocal()
	return d, nil
}
