package state

import (
	"github.com/twistedxcom/agent-island/internal/transcript"
)

// AgentKind is the closed set of agent variants a session can belong to.
type AgentKind string

const (
	AgentClaude  AgentKind = "claude"
	AgentCursor  AgentKind = "cursor"
	AgentPi      AgentKind = "pi"
	AgentUnknown AgentKind = "unknown"
)

// ParseAgentKind maps a wire agent_type string to the closed set.
func ParseAgentKind(s string) AgentKind {
	switch s {
	case "claude":
		return AgentClaude
	case "cursor":
		return AgentCursor
	case "pi":
		return AgentPi
	default:
		return AgentUnknown
	}
}

// Event is a typed command for the processor. The variants below are the
// only implementations.
type Event interface {
	eventSessionID() string
}

// Notification is a decoded hook lifecycle notification.
type Notification struct {
	SessionID      string
	CWD            string
	Event          string
	Status         string
	Agent          AgentKind
	Tool           string
	ToolID         string
	ToolInput      map[string]any
	TranscriptPath string
}

// TranscriptUpdated carries freshly parsed transcript content.
// Incremental selects append mode; a full payload triggers a resort.
type TranscriptUpdated struct {
	SessionID         string
	CWD               string
	Blocks            []transcript.Block
	Incremental       bool
	CompletedToolIDs  map[string]bool
	ToolResults       map[string]transcript.ToolResult
	StructuredResults map[string]transcript.StructuredResult
}

// ToolCompleted finalizes a running tool call. Already-terminal targets
// are left untouched.
type ToolCompleted struct {
	SessionID string
	ToolID    string
	Result    ToolResult
}

// Interrupted reports that the user aborted the session's current turn.
type Interrupted struct {
	SessionID string
}

// ClearDetected flags a session for reconciliation on the next transcript
// update. Pruning is deferred until replacement content arrives.
type ClearDetected struct {
	SessionID string
}

// SessionEnded removes a session.
type SessionEnded struct {
	SessionID string
}

// LoadHistory requests a full parse to backfill a session's chat history.
type LoadHistory struct {
	SessionID string
	CWD       string
}

// HistoryLoaded carries a full parse result for merging.
type HistoryLoaded struct {
	SessionID         string
	Blocks            []transcript.Block
	CompletedToolIDs  map[string]bool
	ToolResults       map[string]transcript.ToolResult
	StructuredResults map[string]transcript.StructuredResult
	Summary           transcript.Summary
}

func (e Notification) eventSessionID() string      { return e.SessionID }
func (e TranscriptUpdated) eventSessionID() string { return e.SessionID }
func (e ToolCompleted) eventSessionID() string     { return e.SessionID }
func (e Interrupted) eventSessionID() string       { return e.SessionID }
func (e ClearDetected) eventSessionID() string     { return e.SessionID }
func (e SessionEnded) eventSessionID() string      { return e.SessionID }
func (e LoadHistory) eventSessionID() string       { return e.SessionID }
func (e HistoryLoaded) eventSessionID() string     { return e.SessionID }
