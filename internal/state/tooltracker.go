package state

// toolTracker is a per-session existence and completion set for tool
// invocation ids. It dedups tool sightings across the two producers
// (hook notifications and transcript parses) that both report the same
// invocation.
type toolTracker struct {
	tools map[string]bool // id -> completed
}

func newToolTracker() *toolTracker {
	return &toolTracker{tools: make(map[string]bool)}
}

// Seen reports whether an invocation id has been recorded.
func (t *toolTracker) Seen(id string) bool {
	_, ok := t.tools[id]
	return ok
}

// MarkStarted records an invocation id. Re-marking a completed id does not
// revert it.
func (t *toolTracker) MarkStarted(id string) {
	if _, ok := t.tools[id]; !ok {
		t.tools[id] = false
	}
}

// MarkCompleted records an invocation as completed, creating it if needed.
func (t *toolTracker) MarkCompleted(id string) {
	t.tools[id] = true
}

// Completed reports whether an invocation finished.
func (t *toolTracker) Completed(id string) bool {
	return t.tools[id]
}

// Reset drops all recorded invocations.
func (t *toolTracker) Reset() {
	t.tools = make(map[string]bool)
}
