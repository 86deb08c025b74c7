package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	writes int32
	marks  int32
	pushes int32
	urgent int32
}

func newScheduler(cfg Config, c *counters) *Scheduler {
	return New(cfg, Callbacks{
		WriteLocal: func() time.Time {
			atomic.AddInt32(&c.writes, 1)
			return time.Now()
		},
		MarkSaved: func(time.Time) {
			atomic.AddInt32(&c.marks, 1)
		},
		Push: func(fireAndForget bool) {
			atomic.AddInt32(&c.pushes, 1)
			if fireAndForget {
				atomic.AddInt32(&c.urgent, 1)
			}
		},
	})
}

func TestChangeWritesLocallyRightAway(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: time.Hour}, &c)
	defer s.Stop()

	s.Change()
	s.Change()
	s.Change()

	assert.Equal(t, int32(3), atomic.LoadInt32(&c.writes), "every edit lands in the local slot immediately")
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.marks), "the save marker waits for the quiet period")
}

func TestDebounceFiresOnceAfterBurst(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: 150 * time.Millisecond, Heartbeat: time.Hour}, &c)
	defer s.Stop()

	// A typing burst restarts the quiet period each time.
	for i := 0; i < 5; i++ {
		s.Change()
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&c.marks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// No further marks without further edits.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.marks))
	assert.Equal(t, int32(6), atomic.LoadInt32(&c.writes), "five immediate writes plus the debounced one")
}

func TestHeartbeatPushesWhileOnlineAndAuthenticated(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: 20 * time.Millisecond}, &c)
	defer s.Stop()

	s.SetOnline(true)
	s.SetAuthenticated(true)
	s.Start()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&c.pushes) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatSilentWhileOffline(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: 15 * time.Millisecond}, &c)
	defer s.Stop()

	s.SetOnline(false)
	s.SetAuthenticated(true)
	s.Start()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.pushes))

	// Back online, the same ticker resumes pushing.
	s.SetOnline(true)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&c.pushes) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatSilentWhileAnonymous(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: 15 * time.Millisecond}, &c)
	defer s.Stop()

	s.SetOnline(true)
	s.Start()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.pushes), "anonymous sessions stay local-only")
}

func TestBlurAndHidePushImmediately(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: time.Hour}, &c)
	defer s.Stop()

	s.SetOnline(true)
	s.SetAuthenticated(true)

	s.Blur()
	s.Hide()
	assert.Equal(t, int32(2), atomic.LoadInt32(&c.pushes))
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.urgent))
}

func TestUnloadWritesThenFiresNonBlockingPush(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: time.Hour, Heartbeat: time.Hour}, &c)
	defer s.Stop()

	s.SetOnline(true)
	s.SetAuthenticated(true)

	s.Unload()
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.writes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.urgent), "the teardown push must not wait for a response")
}

func TestStopCancelsPendingDebounce(t *testing.T) {
	var c counters
	s := newScheduler(Config{Debounce: 30 * time.Millisecond, Heartbeat: time.Hour}, &c)

	s.Change()
	s.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&c.marks))
}
