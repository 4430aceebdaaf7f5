package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ItemKind is the variant of a chat history entry.
type ItemKind string

const (
	ItemUserText      ItemKind = "user_text"
	ItemAssistantText ItemKind = "assistant_text"
	ItemToolCall      ItemKind = "tool_call"
	ItemThinking      ItemKind = "thinking"
	ItemInterrupted   ItemKind = "interrupted"
)

// ToolStatus is the lifecycle status of a tool invocation.
type ToolStatus string

const (
	ToolRunning     ToolStatus = "running"
	ToolSuccess     ToolStatus = "success"
	ToolError       ToolStatus = "error"
	ToolInterrupted ToolStatus = "interrupted"
)

// Terminal reports whether the status is final. Terminal tool calls are
// immutable: no later event may change their status.
func (s ToolStatus) Terminal() bool {
	return s == ToolSuccess || s == ToolError || s == ToolInterrupted
}

// ChatItem is one entry in a session's visible history. For tool calls the
// key is the invocation id; for the other kinds it is a composite of
// (message id, kind, block position). Keys are unique within a session.
type ChatItem struct {
	Key       string    `json:"key"`
	Kind      ItemKind  `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tool      *ToolCall `json:"tool,omitempty"`
}

// ToolCall records one tool invocation and its lifecycle.
type ToolCall struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Input      map[string]string `json:"input,omitempty"`
	Status     ToolStatus        `json:"status"`
	Result     string            `json:"result,omitempty"`
	Structured json.RawMessage   `json:"structured,omitempty"`
	// SubagentID names the nested execution context reported by a
	// Task tool's structured result, when available.
	SubagentID string         `json:"subagent_id,omitempty"`
	Nested     []SubagentCall `json:"nested,omitempty"`
}

// SubagentCall is a tool invocation attributed to a parent Task tool.
type SubagentCall struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Input     map[string]string `json:"input,omitempty"`
	Status    ToolStatus        `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// ToolResult is the completion payload applied to a running tool call.
type ToolResult struct {
	Status     ToolStatus
	Text       string
	Structured json.RawMessage
	SubagentID string
}

// clone deep-copies an item so published snapshots never alias processor
// state.
func (it ChatItem) clone() ChatItem {
	out := it
	if it.Tool != nil {
		tool := *it.Tool
		tool.Input = copyStringMap(it.Tool.Input)
		if it.Tool.Structured != nil {
			tool.Structured = append(json.RawMessage(nil), it.Tool.Structured...)
		}
		if it.Tool.Nested != nil {
			tool.Nested = make([]SubagentCall, len(it.Tool.Nested))
			for i, n := range it.Tool.Nested {
				n.Input = copyStringMap(n.Input)
				tool.Nested[i] = n
			}
		}
		out.Tool = &tool
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// compositeKey builds the identity key for non-tool blocks.
func compositeKey(messageID string, kind ItemKind, index int) string {
	return fmt.Sprintf("%s:%s:%d", messageID, kind, index)
}

// NarrowInput flattens a decoded tool-input payload for display: strings
// are kept, numbers and booleans are stringified, arrays and maps and
// nulls are dropped. The narrowing is intentionally lossy.
func NarrowInput(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
