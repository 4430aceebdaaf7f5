package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *fireRecorder) fire(sessionID, cwd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sessionID+"|"+cwd)
}

func (r *fireRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerCoalescesBursts(t *testing.T) {
	rec := &fireRecorder{}
	sched := NewScheduler(30*time.Millisecond, rec.fire)
	defer sched.Close()

	sched.Schedule("s1", "/old")
	sched.Schedule("s1", "/old")
	sched.Schedule("s1", "/new")

	waitFor(t, func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(60 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1, "burst of schedules fires once")
	assert.Equal(t, "s1|/new", calls[0], "latest cwd wins")
}

func TestSchedulerIndependentSessions(t *testing.T) {
	rec := &fireRecorder{}
	sched := NewScheduler(20*time.Millisecond, rec.fire)
	defer sched.Close()

	sched.Schedule("s1", "/a")
	sched.Schedule("s2", "/b")

	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	assert.ElementsMatch(t, []string{"s1|/a", "s2|/b"}, rec.snapshot())
}

func TestSchedulerCancel(t *testing.T) {
	rec := &fireRecorder{}
	sched := NewScheduler(20*time.Millisecond, rec.fire)
	defer sched.Close()

	sched.Schedule("s1", "/a")
	sched.Cancel("s1")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestSchedulerCloseStopsEverything(t *testing.T) {
	rec := &fireRecorder{}
	sched := NewScheduler(20*time.Millisecond, rec.fire)

	sched.Schedule("s1", "/a")
	sched.Close()
	sched.Schedule("s2", "/b")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
