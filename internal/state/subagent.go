package state

// taskContext accumulates the nested tool calls of one active Task
// invocation until the task stops and they are attached to the parent
// chat item.
type taskContext struct {
	description string
	calls       []SubagentCall
}

// subagentTracker tracks nested Task execution per session. Normally at
// most one task is meaningfully active at a time, but the map tolerates
// concurrent Task ids; nested calls are attributed to the most recently
// started task that has not stopped.
type subagentTracker struct {
	tasks map[string]*taskContext
	order []string // start order, most recent last
}

func newSubagentTracker() *subagentTracker {
	return &subagentTracker{tasks: make(map[string]*taskContext)}
}

// StartTask begins a task context for a Task tool invocation id.
func (s *subagentTracker) StartTask(id, description string) {
	if _, ok := s.tasks[id]; ok {
		return
	}
	s.tasks[id] = &taskContext{description: description}
	s.order = append(s.order, id)
}

// Active returns the id of the task nested calls should attach to, or ""
// when no task is running.
func (s *subagentTracker) Active() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[len(s.order)-1]
}

// Has reports whether a task context exists for the id.
func (s *subagentTracker) Has(id string) bool {
	_, ok := s.tasks[id]
	return ok
}

// AddTool appends a nested call to the active task context. Without an
// active task the call is dropped.
func (s *subagentTracker) AddTool(call SubagentCall) {
	active := s.Active()
	if active == "" {
		return
	}
	s.tasks[active].calls = append(s.tasks[active].calls, call)
}

// UpdateStatus updates a nested call by its own invocation id, searching
// every task context. Terminal calls are left untouched.
func (s *subagentTracker) UpdateStatus(id string, status ToolStatus) bool {
	for _, task := range s.tasks {
		for i := range task.calls {
			if task.calls[i].ID != id {
				continue
			}
			if !task.calls[i].Status.Terminal() {
				task.calls[i].Status = status
			}
			return true
		}
	}
	return false
}

// StopTask removes a task context and returns its accumulated nested
// calls for attachment to the parent chat item.
func (s *subagentTracker) StopTask(id string) []SubagentCall {
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	delete(s.tasks, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return task.calls
}

// TransferAll flushes every context's nested calls, keyed by parent task
// id, and clears the tracker. With markInterrupted, still-running nested
// calls are forced to interrupted first. Used on session-level interrupt
// or stop.
func (s *subagentTracker) TransferAll(markInterrupted bool) map[string][]SubagentCall {
	if len(s.tasks) == 0 {
		s.Reset()
		return nil
	}
	out := make(map[string][]SubagentCall, len(s.tasks))
	for id, task := range s.tasks {
		if markInterrupted {
			for i := range task.calls {
				if task.calls[i].Status == ToolRunning {
					task.calls[i].Status = ToolInterrupted
				}
			}
		}
		out[id] = task.calls
	}
	s.Reset()
	return out
}

// Reset drops every task context.
func (s *subagentTracker) Reset() {
	s.tasks = make(map[string]*taskContext)
	s.order = nil
}

// Empty reports whether no task context is active.
func (s *subagentTracker) Empty() bool {
	return len(s.tasks) == 0
}
