// Package transcript parses Claude Code JSONL transcript files into
// structured message blocks and tool completion lookups. It is the parsing
// collaborator of the session state store: the store decides what to track,
// this package decides how a transcript file on disk maps to blocks.
package transcript

import (
	"encoding/json"
	"time"
)

// BlockKind classifies a parsed content block.
type BlockKind string

const (
	BlockUserText      BlockKind = "user_text"
	BlockAssistantText BlockKind = "assistant_text"
	BlockThinking      BlockKind = "thinking"
	BlockToolUse       BlockKind = "tool_use"
	BlockInterrupted   BlockKind = "interrupted"
)

// InterruptedMarker is the literal text Claude Code writes into the
// transcript when the user aborts a turn.
const InterruptedMarker = "[Request interrupted by user]"

// Block is one displayable unit parsed from a transcript message.
// For tool_use blocks ToolID/ToolName/ToolInput are set; for the rest,
// Text carries the block content.
type Block struct {
	MessageID string
	Index     int
	Kind      BlockKind
	Text      string
	ToolID    string
	ToolName  string
	ToolInput map[string]any
	Timestamp time.Time
}

// ToolResult carries the textual outputs recorded for a completed tool.
// Display resolution prefers stdout, then stderr, then generic content.
type ToolResult struct {
	Stdout  string
	Stderr  string
	Content string
}

// Text returns the first non-empty output, in display priority order.
func (r ToolResult) Text() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Content
}

// StructuredResult is the opaque tool-specific completion payload
// (the transcript's toolUseResult field). AgentID is extracted for
// Task tools so nested subagent transcripts can be located; the raw
// payload is passed through uninterpreted.
type StructuredResult struct {
	Raw     json.RawMessage
	AgentID string
}

// SubagentTool describes one tool invocation inside a subagent transcript.
type SubagentTool struct {
	ID        string
	Name      string
	Input     map[string]any
	Completed bool
	Timestamp time.Time
}

// Summary is conversation-level metadata derived from the transcript.
type Summary struct {
	Text          string
	MessageCount  int
	LastTimestamp time.Time
}

// Incremental is the result of one incremental parse pass.
type Incremental struct {
	NewBlocks         []Block
	CompletedToolIDs  map[string]bool
	ToolResults       map[string]ToolResult
	StructuredResults map[string]StructuredResult
	ClearDetected     bool
}
