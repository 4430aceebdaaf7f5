package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/agent-island/internal/state"
)

func TestDecodePayloadNotification(t *testing.T) {
	payload := `{"session_id":"s1","cwd":"/work/demo","event":"preToolUse",` +
		`"status":"running_tool","agent_type":"claude","tool":"Bash",` +
		`"tool_use_id":"t-1","tool_input":{"command":"ls","timeout":5},` +
		`"transcript_path":"/tmp/s1.jsonl"}`

	ev, err := decodePayload([]byte(payload))
	require.NoError(t, err)

	n, ok := ev.(state.Notification)
	require.True(t, ok)
	assert.Equal(t, "s1", n.SessionID)
	assert.Equal(t, "preToolUse", n.Event)
	assert.Equal(t, state.AgentClaude, n.Agent)
	assert.Equal(t, "Bash", n.Tool)
	assert.Equal(t, "t-1", n.ToolID)
	assert.Equal(t, "/tmp/s1.jsonl", n.TranscriptPath)
	assert.Equal(t, "ls", n.ToolInput["command"])
}

func TestDecodePayloadToolDisplayWins(t *testing.T) {
	payload := `{"session_id":"s1","event":"preToolUse","tool":"Shell","tool_display":"Bash"}`

	ev, err := decodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "Bash", ev.(state.Notification).Tool)
}

func TestDecodePayloadInterrupt(t *testing.T) {
	ev, err := decodePayload([]byte(`{"session_id":"s1","event":"interrupt"}`))
	require.NoError(t, err)
	assert.Equal(t, state.Interrupted{SessionID: "s1"}, ev)
}

func TestDecodePayloadSurroundingNoise(t *testing.T) {
	payload := "hook output follows\n" +
		`{"session_id":"s1","event":"stop","status":"waiting_for_input"}` +
		"\ntrailing garbage"

	ev, err := decodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.(state.Notification).SessionID)
}

func TestDecodePayloadBracesInsideStrings(t *testing.T) {
	payload := `{"session_id":"s1","event":"preToolUse","tool":"Bash",` +
		`"tool_use_id":"t-1","tool_input":{"command":"echo '{\"nested\": 1}'"}}`

	ev, err := decodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, `echo '{"nested": 1}'`, ev.(state.Notification).ToolInput["command"])
}

func TestDecodePayloadStringEncodedToolInput(t *testing.T) {
	payload := `{"session_id":"s1","event":"preToolUse","tool":"Read",` +
		`"tool_input":"{\"file_path\":\"/etc/hosts\"}"}`

	ev, err := decodePayload([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", ev.(state.Notification).ToolInput["file_path"])
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not json at all",
		`{"session_id":"s1"`,             // unbalanced
		`{"cwd":"/work","event":"stop"}`, // missing session_id
		`{"session_id": [1,2,3]}`,        // wrong type
	}
	for _, c := range cases {
		_, err := decodePayload([]byte(c))
		assert.Error(t, err, "payload %q", c)
	}
}

func TestDecodeToolInputTolerance(t *testing.T) {
	assert.Nil(t, decodeToolInput(nil))
	assert.Nil(t, decodeToolInput([]byte(`"not an object"`)))
	assert.Nil(t, decodeToolInput([]byte(`[1,2]`)))
	assert.Nil(t, decodeToolInput([]byte(`broken`)))
}
