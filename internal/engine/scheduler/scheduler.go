// Package scheduler turns a stream of "document changed" events into a
// bounded rate of persistence triggers: an immediate local write per event, a
// debounced "last saved at" marker, and a steady server-push heartbeat that
// is independent of typing activity.
package scheduler

import (
	"sync"
	"time"
)

type Config struct {
	// Debounce is the quiet period after the last edit before the local
	// write is stamped as the authoritative save marker.
	Debounce time.Duration
	// Heartbeat is the fixed period between unconditional server pushes
	// while authenticated and online.
	Heartbeat time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:  4 * time.Second,
		Heartbeat: 45 * time.Second,
	}
}

// Callbacks are the scheduler's only outputs. WriteLocal must be cheap and
// synchronous; Push owns in-flight suppression and the empty-content guard.
type Callbacks struct {
	WriteLocal func() time.Time
	MarkSaved  func(time.Time)
	Push       func(fireAndForget bool)
}

type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	cb       Callbacks
	debounce *time.Timer
	online   bool
	authed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, cb Callbacks) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultConfig().Heartbeat
	}
	return &Scheduler{cfg: cfg, cb: cb, stop: make(chan struct{})}
}

// Start launches the heartbeat loop. The heartbeat is not debounced by
// typing: it fires on a fixed period whenever pushes are possible at all.
func (s *Scheduler) Start() {
	go func() {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.canPush() {
					s.cb.Push(false)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.mu.Unlock()
}

// Change handles one edit event: local write now, debounce timer restarted.
func (s *Scheduler) Change() {
	s.cb.WriteLocal()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() {
		ts := s.cb.WriteLocal()
		s.cb.MarkSaved(ts)
	})
}

// Blur triggers an immediate push when a field loses focus.
func (s *Scheduler) Blur() {
	if s.canPush() {
		s.cb.Push(false)
	}
}

// Hide triggers an immediate push when the tab or page is hidden.
func (s *Scheduler) Hide() {
	if s.canPush() {
		s.cb.Push(false)
	}
}

// Unload writes the local slot one final time and fires a non-blocking push.
// The page may terminate before any response: the local cache is the
// fallback of record.
func (s *Scheduler) Unload() {
	s.cb.WriteLocal()
	if s.canPush() {
		s.cb.Push(true)
	}
}

func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

func (s *Scheduler) SetAuthenticated(authed bool) {
	s.mu.Lock()
	s.authed = authed
	s.mu.Unlock()
}

func (s *Scheduler) canPush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online && s.authed
}
