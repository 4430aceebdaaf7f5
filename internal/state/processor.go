package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/twistedxcom/agent-island/internal/logging"
	"github.com/twistedxcom/agent-island/internal/transcript"
)

// TranscriptSource is the transcript access the processor needs. The
// concrete implementation is transcript.Parser.
type TranscriptSource interface {
	RegisterTranscript(sessionID, path string)
	Forget(sessionID string)
	ParseFullConversation(sessionID, cwd string) ([]transcript.Block, error)
	CompletedToolIDs(sessionID string) map[string]bool
	ToolResults(sessionID string) map[string]transcript.ToolResult
	StructuredResults(sessionID string) map[string]transcript.StructuredResult
	Summary(sessionID, cwd string) transcript.Summary
	ParseSubagentTools(agentID, cwd, sessionID string) ([]transcript.SubagentTool, error)
}

// Processor is the single writer of session state. Every event funnels
// through Process, which applies it under one mutex and publishes a
// fresh snapshot set. Producers (socket listener, file watcher, resync
// scheduler, HTTP handlers) never touch sessions directly.
type Processor struct {
	mu        sync.Mutex
	sessions  map[string]*session
	source    TranscriptSource
	broadcast *Broadcaster
	log       *slog.Logger
	now       func() time.Time

	// scheduleResync requests a debounced transcript parse. Wired
	// after construction because the scheduler's fire path dispatches
	// back into the processor.
	scheduleResync func(sessionID, cwd string)

	onTranscriptRegistered func(sessionID, cwd, path string)
	onSessionRemoved       func(sessionID string)
}

// New builds a processor over a transcript source and a broadcaster.
func New(source TranscriptSource, broadcast *Broadcaster) *Processor {
	return &Processor{
		sessions:  make(map[string]*session),
		source:    source,
		broadcast: broadcast,
		log:       logging.ForComponent(logging.CompState),
		now:       time.Now,
	}
}

// SetResyncScheduler installs the debounce hook called after hook events
// that can change the transcript.
func (p *Processor) SetResyncScheduler(fn func(sessionID, cwd string)) {
	p.scheduleResync = fn
}

// OnTranscriptRegistered installs a callback invoked when a session's
// transcript path becomes known. The file watcher uses it.
func (p *Processor) OnTranscriptRegistered(fn func(sessionID, cwd, path string)) {
	p.onTranscriptRegistered = fn
}

// OnSessionRemoved installs a callback invoked when a session is removed.
func (p *Processor) OnSessionRemoved(fn func(sessionID string)) {
	p.onSessionRemoved = fn
}

// Process applies one event and returns the resulting snapshot set. The
// same set is published to broadcast subscribers. Events for unknown
// sessions other than notifications are no-ops.
func (p *Processor) Process(ev Event) []SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(ev)
	snaps := p.snapshotAll()
	p.broadcast.Publish(snaps)
	return snaps
}

// Dispatch applies an event, discarding the snapshot. For producers that
// do not care about the result.
func (p *Processor) Dispatch(ev Event) {
	p.Process(ev)
}

// Sessions returns a snapshot of every session, sorted by display name
// then id.
func (p *Processor) Sessions() []SessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotAll()
}

// Session returns a snapshot of one session.
func (p *Processor) Session(id string) (SessionSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// apply dispatches on the event variant. A panic in a handler is
// contained so one malformed event cannot take the processor down.
func (p *Processor) apply(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic applying event", "session", ev.eventSessionID(), "panic", r)
			dump := filepath.Join(os.TempDir(), "agent-island-crash.log")
			if err := logging.DumpRingBuffer(dump); err == nil {
				p.log.Error("ring buffer dumped", "path", dump)
			}
		}
	}()

	now := p.now()
	switch e := ev.(type) {
	case Notification:
		p.applyNotification(e, now)
	case TranscriptUpdated:
		p.applyTranscriptUpdated(e, now)
	case ToolCompleted:
		p.applyToolCompleted(e)
	case Interrupted:
		p.applyInterrupted(e, now)
	case ClearDetected:
		p.applyClearDetected(e)
	case SessionEnded:
		p.removeSession(e.SessionID)
	case LoadHistory:
		p.applyLoadHistory(e, now)
	case HistoryLoaded:
		p.applyHistoryLoaded(e, now)
	default:
		p.log.Warn("unknown event variant", "session", ev.eventSessionID())
	}
}

func (p *Processor) applyNotification(n Notification, now time.Time) {
	s, ok := p.sessions[n.SessionID]
	if !ok {
		s = newSession(n.SessionID, n.CWD, n.Agent)
		p.sessions[n.SessionID] = s
		p.log.Info("session created", "session", n.SessionID, "cwd", n.CWD, "agent", n.Agent)
	}
	if s.CWD == "" && n.CWD != "" {
		s.CWD = n.CWD
		s.DisplayName = displayName(s.ID, n.CWD)
	}
	if n.Agent != "" && n.Agent != AgentUnknown {
		s.Agent = n.Agent
	}

	if n.TranscriptPath != "" && n.TranscriptPath != s.TranscriptPath {
		s.TranscriptPath = n.TranscriptPath
		p.source.RegisterTranscript(s.ID, n.TranscriptPath)
		if p.onTranscriptRegistered != nil {
			p.onTranscriptRegistered(s.ID, s.CWD, n.TranscriptPath)
		}
		p.applyLoadHistory(LoadHistory{SessionID: s.ID, CWD: s.CWD}, now)
	}

	s.LastActivity = now
	if n.Event == EventSubmitPrompt {
		s.LastUserInput = now
	}

	if n.Status == StatusEnded || n.Event == EventSessionEnd {
		p.removeSession(s.ID)
		return
	}

	target := PhaseForNotification(n.Event, n.Status)
	if CanTransition(s.Phase, target) {
		s.Phase = target
	} else {
		p.log.Debug("phase transition rejected",
			"session", s.ID, "from", s.Phase, "to", target, "event", n.Event)
	}

	switch n.Event {
	case EventPreToolUse:
		p.toolStarted(s, n, now)
	case EventPostToolUse:
		p.toolFinished(s, n)
	case EventStop:
		p.attachSubagents(s, s.subagents.TransferAll(false))
	}

	switch n.Event {
	case EventSubmitPrompt, EventPreToolUse, EventPostToolUse, EventStop:
		if p.scheduleResync != nil && s.TranscriptPath != "" {
			p.scheduleResync(s.ID, s.CWD)
		}
	}
}

// toolStarted routes a preToolUse notification. Task tools open a
// subagent context; other tools either attribute to the active task or
// become a top-level placeholder item until the transcript confirms them.
func (p *Processor) toolStarted(s *session, n Notification, now time.Time) {
	if n.ToolID == "" {
		return
	}
	if n.Tool == "Task" {
		s.subagents.StartTask(n.ToolID, taskDescription(n.ToolInput))
		if s.tools.Seen(n.ToolID) {
			return
		}
		s.tools.MarkStarted(n.ToolID)
		s.appendItem(ChatItem{
			Key:       n.ToolID,
			Kind:      ItemToolCall,
			Timestamp: now,
			Tool: &ToolCall{
				ID:     n.ToolID,
				Name:   n.Tool,
				Input:  NarrowInput(n.ToolInput),
				Status: ToolRunning,
			},
		})
		return
	}

	if s.subagents.Active() != "" {
		if s.tools.Seen(n.ToolID) {
			return
		}
		s.tools.MarkStarted(n.ToolID)
		s.subagents.AddTool(SubagentCall{
			ID:        n.ToolID,
			Name:      n.Tool,
			Input:     NarrowInput(n.ToolInput),
			Status:    ToolRunning,
			Timestamp: now,
		})
		return
	}

	if s.tools.Seen(n.ToolID) {
		return
	}
	s.tools.MarkStarted(n.ToolID)
	s.appendItem(ChatItem{
		Key:       n.ToolID,
		Kind:      ItemToolCall,
		Timestamp: now,
		Tool: &ToolCall{
			ID:     n.ToolID,
			Name:   n.Tool,
			Input:  NarrowInput(n.ToolInput),
			Status: ToolRunning,
		},
	})
}

// toolFinished routes a postToolUse notification. The hook protocol does
// not carry failure detail, so completion via hook means success; error
// status only ever comes from transcript results.
func (p *Processor) toolFinished(s *session, n Notification) {
	if n.ToolID == "" {
		return
	}
	if n.Tool == "Task" || s.subagents.Has(n.ToolID) {
		calls := s.subagents.StopTask(n.ToolID)
		s.tools.MarkCompleted(n.ToolID)
		if it := s.item(n.ToolID); it != nil && it.Tool != nil {
			it.Tool.Nested = append(it.Tool.Nested, calls...)
			if it.Tool.Status == ToolRunning {
				it.Tool.Status = ToolSuccess
			}
		}
		return
	}

	if s.subagents.UpdateStatus(n.ToolID, ToolSuccess) {
		s.tools.MarkCompleted(n.ToolID)
		return
	}

	s.tools.MarkCompleted(n.ToolID)
	if it := s.item(n.ToolID); it != nil && it.Tool != nil && it.Tool.Status == ToolRunning {
		it.Tool.Status = ToolSuccess
	}
}

func (p *Processor) applyTranscriptUpdated(e TranscriptUpdated, now time.Time) {
	s, ok := p.sessions[e.SessionID]
	if !ok {
		p.log.Debug("transcript update for unknown session", "session", e.SessionID)
		return
	}

	sum := p.source.Summary(s.ID, s.CWD)
	s.SummaryText = sum.Text
	s.MessageCount = sum.MessageCount
	s.LastTimestamp = sum.LastTimestamp

	if s.needsReconcile {
		s.reconcileClear(e.Blocks, now)
	}

	s.mergeBlocks(e.Blocks, e.Incremental, mergeLookups{
		completed:  e.CompletedToolIDs,
		results:    e.ToolResults,
		structured: e.StructuredResults,
	})

	p.refreshSubagentDetail(s)
	p.completeFinishedTools(s, e.CompletedToolIDs, e.ToolResults, e.StructuredResults)
	s.LastActivity = now
}

// refreshSubagentDetail reloads nested call detail for Task items whose
// structured result named a subagent sidecar transcript.
func (p *Processor) refreshSubagentDetail(s *session) {
	for i := range s.Items {
		tool := s.Items[i].Tool
		if tool == nil || tool.SubagentID == "" {
			continue
		}
		calls, err := p.source.ParseSubagentTools(tool.SubagentID, s.CWD, s.ID)
		if err != nil {
			p.log.Debug("subagent transcript unavailable",
				"session", s.ID, "agent", tool.SubagentID, "error", err)
			continue
		}
		if len(calls) == 0 {
			continue
		}
		nested := make([]SubagentCall, len(calls))
		for j, c := range calls {
			status := ToolRunning
			if c.Completed {
				status = ToolSuccess
			}
			nested[j] = SubagentCall{
				ID:        c.ID,
				Name:      c.Name,
				Input:     NarrowInput(c.Input),
				Status:    status,
				Timestamp: c.Timestamp,
			}
		}
		tool.Nested = nested
	}
}

// completeFinishedTools finalizes top-level tool calls the transcript has
// confirmed as finished. Tools already marked success by a hook are
// included: the hook carries no output, so the transcript's completion
// still owes them their result.
func (p *Processor) completeFinishedTools(s *session, completed map[string]bool,
	results map[string]transcript.ToolResult, structured map[string]transcript.StructuredResult) {
	for i := range s.Items {
		tool := s.Items[i].Tool
		if tool == nil || !completed[tool.ID] {
			continue
		}
		res := ToolResult{Status: ToolSuccess, Text: results[tool.ID].Text()}
		if sr, ok := structured[tool.ID]; ok {
			res.Structured = sr.Raw
			res.SubagentID = sr.AgentID
		}
		p.finalizeTool(s, tool.ID, res)
	}
}

func (p *Processor) applyToolCompleted(e ToolCompleted) {
	s, ok := p.sessions[e.SessionID]
	if !ok {
		return
	}
	p.finalizeTool(s, e.ToolID, e.Result)
}

// finalizeTool applies a completion payload to a tool call. A completed
// call with a result is immutable, as are error and interrupted calls.
// Success set by a postToolUse hook is provisional: the hook carries no
// output, so a later completion may still attach the result and refine
// the status.
func (p *Processor) finalizeTool(s *session, toolID string, res ToolResult) {
	s.tools.MarkCompleted(toolID)
	it := s.item(toolID)
	if it == nil || it.Tool == nil {
		return
	}
	if it.Tool.Status.Terminal() && !resultPending(it.Tool) {
		return
	}
	status := res.Status
	if status == "" {
		status = ToolSuccess
	}
	it.Tool.Status = status
	if res.Text != "" {
		it.Tool.Result = res.Text
	}
	if res.Structured != nil {
		it.Tool.Structured = append(json.RawMessage(nil), res.Structured...)
	}
	if res.SubagentID != "" {
		it.Tool.SubagentID = res.SubagentID
	}
}

// resultPending reports whether a successful call still lacks any output,
// meaning its success came from a hook and a transcript completion may
// refine it.
func resultPending(t *ToolCall) bool {
	return t.Status == ToolSuccess && t.Result == "" && len(t.Structured) == 0
}

func (p *Processor) applyInterrupted(e Interrupted, now time.Time) {
	s, ok := p.sessions[e.SessionID]
	if !ok {
		return
	}
	p.attachSubagents(s, s.subagents.TransferAll(true))
	for i := range s.Items {
		if tool := s.Items[i].Tool; tool != nil && tool.Status == ToolRunning {
			tool.Status = ToolInterrupted
		}
	}
	if CanTransition(s.Phase, PhaseIdle) {
		s.Phase = PhaseIdle
	}
	s.LastActivity = now
	p.log.Info("session interrupted", "session", s.ID)
}

// attachSubagents moves flushed nested calls onto their parent Task
// items. Calls whose parent item never materialized are dropped.
func (p *Processor) attachSubagents(s *session, flushed map[string][]SubagentCall) {
	for parentID, calls := range flushed {
		if len(calls) == 0 {
			continue
		}
		if it := s.item(parentID); it != nil && it.Tool != nil {
			it.Tool.Nested = append(it.Tool.Nested, calls...)
		}
	}
}

func (p *Processor) applyClearDetected(e ClearDetected) {
	s, ok := p.sessions[e.SessionID]
	if !ok {
		return
	}
	s.needsReconcile = true
	p.log.Info("conversation clear detected", "session", s.ID)
}

func (p *Processor) applyLoadHistory(e LoadHistory, now time.Time) {
	blocks, err := p.source.ParseFullConversation(e.SessionID, e.CWD)
	if err != nil {
		p.log.Debug("history load failed", "session", e.SessionID, "error", err)
		return
	}
	p.applyHistoryLoaded(HistoryLoaded{
		SessionID:         e.SessionID,
		Blocks:            blocks,
		CompletedToolIDs:  p.source.CompletedToolIDs(e.SessionID),
		ToolResults:       p.source.ToolResults(e.SessionID),
		StructuredResults: p.source.StructuredResults(e.SessionID),
		Summary:           p.source.Summary(e.SessionID, e.CWD),
	}, now)
}

func (p *Processor) applyHistoryLoaded(e HistoryLoaded, now time.Time) {
	s, ok := p.sessions[e.SessionID]
	if !ok {
		return
	}
	s.mergeBlocks(e.Blocks, false, mergeLookups{
		completed:  e.CompletedToolIDs,
		results:    e.ToolResults,
		structured: e.StructuredResults,
	})
	s.SummaryText = e.Summary.Text
	s.MessageCount = e.Summary.MessageCount
	s.LastTimestamp = e.Summary.LastTimestamp
	p.refreshSubagentDetail(s)
	p.completeFinishedTools(s, e.CompletedToolIDs, e.ToolResults, e.StructuredResults)
	s.LastActivity = now
	p.log.Info("history loaded", "session", s.ID, "items", len(s.Items))
}

func (p *Processor) removeSession(id string) {
	if _, ok := p.sessions[id]; !ok {
		return
	}
	delete(p.sessions, id)
	p.source.Forget(id)
	if p.onSessionRemoved != nil {
		p.onSessionRemoved(id)
	}
	p.log.Info("session removed", "session", id)
}

func (p *Processor) snapshotAll() []SessionSnapshot {
	out := make([]SessionSnapshot, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// taskDescription extracts the display description of a Task invocation.
func taskDescription(input map[string]any) string {
	if d, ok := input["description"].(string); ok {
		return d
	}
	return ""
}
