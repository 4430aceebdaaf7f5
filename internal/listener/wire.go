package listener

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twistedxcom/agent-island/internal/state"
)

// wireEvent is the hook notification schema shared by the agent hook
// scripts.
type wireEvent struct {
	SessionID      string          `json:"session_id"`
	CWD            string          `json:"cwd"`
	Event          string          `json:"event"`
	Status         string          `json:"status"`
	AgentType      string          `json:"agent_type"`
	Tool           string          `json:"tool"`
	ToolDisplay    string          `json:"tool_display"`
	ToolUseID      string          `json:"tool_use_id"`
	ToolInput      json.RawMessage `json:"tool_input"`
	TranscriptPath string          `json:"transcript_path"`
}

// eventInterrupt is a synthetic wire event from the interrupt detector,
// not a hook lifecycle event.
const eventInterrupt = "interrupt"

// decodePayload turns raw connection bytes into a processor event. Hook
// scripts forward stdin they do not fully control, so decoding tolerates
// garbage around the outermost JSON object.
func decodePayload(data []byte) (state.Event, error) {
	obj, err := extractObject(data)
	if err != nil {
		return nil, err
	}
	var w wireEvent
	if err := json.Unmarshal(obj, &w); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if w.SessionID == "" {
		return nil, errors.New("payload missing session_id")
	}

	if w.Event == eventInterrupt {
		return state.Interrupted{SessionID: w.SessionID}, nil
	}

	tool := w.Tool
	if w.ToolDisplay != "" {
		tool = w.ToolDisplay
	}
	return state.Notification{
		SessionID:      w.SessionID,
		CWD:            w.CWD,
		Event:          w.Event,
		Status:         w.Status,
		Agent:          state.ParseAgentKind(w.AgentType),
		Tool:           tool,
		ToolID:         w.ToolUseID,
		ToolInput:      decodeToolInput(w.ToolInput),
		TranscriptPath: w.TranscriptPath,
	}, nil
}

// decodeToolInput parses the tool_input field, which arrives either as a
// JSON object or as a string holding encoded JSON. Anything else yields
// nil; tool input is best-effort display data.
func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil
		}
		raw = []byte(inner)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

// extractObject returns the outermost balanced JSON object in data,
// skipping any leading or trailing noise. Braces inside strings and
// escaped quotes are handled.
func extractObject(data []byte) ([]byte, error) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		return nil, errors.New("no JSON object in payload")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object (depth %d)", depth)
}
