// Package tablock is the soft mutual-exclusion signal across tabs editing
// the same draft: a liveness lease on a shared slot, renewed on an interval
// and reclaimable once stale. It never blocks a write — it only decides
// whether the UI shows a "being edited elsewhere" banner. Correctness
// against concurrent writers lives in the draft store's version check.
package tablock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"draftkeep/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

type State int

const (
	Unclaimed State = iota
	Claimed
	Observing
	Released
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Observing:
		return "observing"
	case Released:
		return "released"
	default:
		return "unclaimed"
	}
}

type Config struct {
	// TTL is the liveness window: a lease older than this is stale and
	// reclaimable by any tab.
	TTL time.Duration
	// Renew is the heartbeat interval while holding the lease, and the
	// poll fallback while observing.
	Renew time.Duration
}

func DefaultConfig() Config {
	return Config{TTL: 15 * time.Second, Renew: 5 * time.Second}
}

const lockFile = "draftkeep.lock"

type lease struct {
	TabID       string    `json:"tab_id"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Coordinator runs the per-tab state machine:
// UNCLAIMED -> CLAIMED (renew loop) -> RELEASED, or -> OBSERVING when
// another live tab already holds the slot.
type Coordinator struct {
	mu      sync.Mutex
	path    string
	tabID   string
	cfg     Config
	state   State
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

func New(dir string, cfg Config) *Coordinator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Renew <= 0 {
		cfg.Renew = DefaultConfig().Renew
	}
	return &Coordinator{
		path:  filepath.Join(dir, lockFile),
		tabID: uuid.NewString(),
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
}

// TabID identifies this tab for the lifetime of the page load.
func (c *Coordinator) TabID() string { return c.tabID }

// Start attempts the initial claim, then watches the shared slot so sibling
// tabs re-evaluate immediately on change instead of waiting for the next
// poll. The renew ticker doubles as the poll fallback.
func (c *Coordinator) Start() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	c.evaluate()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to polling only; the lease still works, just slower to
		// notice competing claims.
		logger.Sugar.Warnf("Tab lock watcher unavailable, polling only: %v", err)
	} else {
		c.watcher = watcher
		if err := watcher.Add(filepath.Dir(c.path)); err != nil {
			logger.Sugar.Warnf("Tab lock watch failed, polling only: %v", err)
			watcher.Close()
			c.watcher = nil
		}
	}

	go c.run()
	return nil
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.cfg.Renew)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if c.watcher != nil {
		events = c.watcher.Events
		errs = c.watcher.Errors
	}

	for {
		select {
		case <-ticker.C:
			c.evaluate()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == c.path {
				c.evaluate()
			}
		case err, ok := <-errs:
			// Unread errors stall the watcher's delivery goroutine; the
			// renew ticker covers any missed change.
			if !ok {
				errs = nil
				continue
			}
			logger.Sugar.Warnf("Tab lock watcher error: %v", err)
		case <-c.stop:
			return
		}
	}
}

// evaluate reads the shared slot and moves the state machine: claim when the
// slot is free, stale, or already ours; observe when a different live tab
// holds it; renew while claimed.
func (c *Coordinator) evaluate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Released {
		return
	}

	current := c.readLease()
	switch {
	case current == nil,
		current.TabID == c.tabID,
		time.Since(current.HeartbeatAt) > c.cfg.TTL:
		if c.writeLease() {
			c.state = Claimed
		}
	default:
		c.state = Observing
	}
}

func (c *Coordinator) readLease() *lease {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var l lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil
	}
	return &l
}

func (c *Coordinator) writeLease() bool {
	data, _ := json.Marshal(lease{TabID: c.tabID, HeartbeatAt: time.Now()})
	tmp := c.path + "." + c.tabID
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Sugar.Debugf("Tab lock write failed: %v", err)
		return false
	}
	if err := os.Rename(tmp, c.path); err != nil {
		logger.Sugar.Debugf("Tab lock rename failed: %v", err)
		return false
	}
	return true
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EditedElsewhere reports whether another live tab holds the slot. Advisory:
// this tab may still edit and save.
func (c *Coordinator) EditedElsewhere() bool {
	return c.State() == Observing
}

// Release clears the slot on unload if this tab still owns it.
func (c *Coordinator) Release() {
	c.once.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Claimed {
		if current := c.readLease(); current != nil && current.TabID == c.tabID {
			if err := os.Remove(c.path); err != nil {
				logger.Sugar.Debugf("Tab lock release failed: %v", err)
			}
		}
	}
	c.state = Released

	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
}
