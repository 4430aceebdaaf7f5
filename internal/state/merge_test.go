package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/agent-island/internal/transcript"
)

func textBlock(msgID string, index int, text string, ts time.Time) transcript.Block {
	return transcript.Block{
		MessageID: msgID,
		Index:     index,
		Kind:      transcript.BlockAssistantText,
		Text:      text,
		Timestamp: ts,
	}
}

func toolBlock(msgID, toolID, name string, ts time.Time) transcript.Block {
	return transcript.Block{
		MessageID: msgID,
		Kind:      transcript.BlockToolUse,
		ToolID:    toolID,
		ToolName:  name,
		ToolInput: map[string]any{"command": "ls"},
		Timestamp: ts,
	}
}

func TestMergeBlocksIncrementalIsIdempotent(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	base := time.Now()
	blocks := []transcript.Block{
		textBlock("m1", 0, "hello", base),
		toolBlock("m2", "t-1", "Bash", base.Add(time.Second)),
	}

	s.mergeBlocks(blocks, true, mergeLookups{})
	require.Len(t, s.Items, 2)

	s.mergeBlocks(blocks, true, mergeLookups{})
	assert.Len(t, s.Items, 2, "re-merging the same blocks must not duplicate items")
}

func TestMergeBlocksToolCompletion(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	base := time.Now()
	lk := mergeLookups{
		completed: map[string]bool{"t-1": true},
		results:   map[string]transcript.ToolResult{"t-1": {Stdout: "ok"}},
		structured: map[string]transcript.StructuredResult{
			"t-1": {Raw: json.RawMessage(`{"n":42}`), AgentID: "agent-x"},
		},
	}

	s.mergeBlocks([]transcript.Block{toolBlock("m1", "t-1", "Bash", base)}, true, lk)
	require.Len(t, s.Items, 1)
	tool := s.Items[0].Tool
	require.NotNil(t, tool)
	assert.Equal(t, ToolSuccess, tool.Status)
	assert.Equal(t, "ok", tool.Result)
	assert.JSONEq(t, `{"n":42}`, string(tool.Structured))
	assert.Equal(t, "agent-x", tool.SubagentID)
	assert.True(t, s.tools.Completed("t-1"))
}

func TestMergeBlocksDuplicateToolRefreshesNameAndInput(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	base := time.Now()

	// Hook placeholder created before the transcript caught up.
	s.tools.MarkStarted("t-1")
	s.appendItem(ChatItem{
		Key:       "t-1",
		Kind:      ItemToolCall,
		Timestamp: base,
		Tool:      &ToolCall{ID: "t-1", Name: "Bash", Status: ToolRunning, Result: "partial"},
	})

	s.mergeBlocks([]transcript.Block{toolBlock("m1", "t-1", "Bash", base)}, true, mergeLookups{})
	require.Len(t, s.Items, 1)
	tool := s.Items[0].Tool
	assert.Equal(t, ToolRunning, tool.Status, "duplicate sighting must not change status")
	assert.Equal(t, "partial", tool.Result)
	assert.Equal(t, map[string]string{"command": "ls"}, tool.Input)
}

func TestMergeBlocksFullModeSortsByTimestamp(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	base := time.Now()

	s.mergeBlocks([]transcript.Block{
		textBlock("m2", 0, "second", base.Add(2*time.Second)),
		textBlock("m1", 0, "first", base),
		textBlock("m3", 0, "third", base.Add(3*time.Second)),
	}, false, mergeLookups{})

	require.Len(t, s.Items, 3)
	assert.Equal(t, "first", s.Items[0].Text)
	assert.Equal(t, "second", s.Items[1].Text)
	assert.Equal(t, "third", s.Items[2].Text)

	// Index stays consistent after the resort.
	assert.Equal(t, "second", s.item(compositeKey("m2", ItemAssistantText, 0)).Text)
}

func TestMergeBlocksThinkingAndInterrupted(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	base := time.Now()

	s.mergeBlocks([]transcript.Block{
		{MessageID: "m1", Index: 0, Kind: transcript.BlockThinking, Text: "hmm", Timestamp: base},
		{MessageID: "m2", Index: 0, Kind: transcript.BlockInterrupted, Timestamp: base.Add(time.Second)},
	}, true, mergeLookups{})

	require.Len(t, s.Items, 2)
	assert.Equal(t, ItemThinking, s.Items[0].Kind)
	assert.Equal(t, ItemInterrupted, s.Items[1].Kind)
}

func TestReconcileClearPrunesStaleItems(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	now := time.Now()

	s.appendItem(ChatItem{Key: "a", Kind: ItemUserText, Text: "A", Timestamp: now.Add(-time.Minute)})
	s.appendItem(ChatItem{Key: "b", Kind: ItemAssistantText, Text: "B", Timestamp: now.Add(-30 * time.Second)})
	s.appendItem(ChatItem{Key: "c", Kind: ItemUserText, Text: "C", Timestamp: now.Add(-time.Second)})
	s.needsReconcile = true

	// Fresh transcript only contains A.
	fresh := []transcript.Block{{MessageID: "a-msg", Kind: transcript.BlockUserText, Text: "A"}}
	// Give A its surviving key.
	s.Items[0].Key = compositeKey("a-msg", ItemUserText, 0)
	s.reindex()

	s.reconcileClear(fresh, now)

	require.Len(t, s.Items, 2)
	assert.Equal(t, "A", s.Items[0].Text, "item present in fresh transcript survives")
	assert.Equal(t, "C", s.Items[1].Text, "recent item survives the reconcile window")
	assert.False(t, s.needsReconcile)
}

func TestReconcileClearReseedsToolTracker(t *testing.T) {
	s := newSession("s1", "/work/demo", AgentClaude)
	now := time.Now()

	s.tools.MarkStarted("t-1")
	s.tools.MarkCompleted("t-1")
	s.appendItem(ChatItem{
		Key:       "t-1",
		Kind:      ItemToolCall,
		Timestamp: now.Add(-time.Minute),
		Tool:      &ToolCall{ID: "t-1", Name: "Bash", Status: ToolSuccess},
	})

	fresh := []transcript.Block{toolBlock("m1", "t-1", "Bash", now)}
	s.reconcileClear(fresh, now)

	require.Len(t, s.Items, 1)
	assert.True(t, s.tools.Seen("t-1"))
	assert.True(t, s.tools.Completed("t-1"))

	// A follow-up merge of the same block must upsert, not duplicate.
	s.mergeBlocks(fresh, true, mergeLookups{})
	assert.Len(t, s.Items, 1)
}

func TestNarrowInput(t *testing.T) {
	got := NarrowInput(map[string]any{
		"cmd":    "ls -la",
		"flag":   true,
		"count":  json.Number("3"),
		"ratio":  2.5,
		"nested": map[string]any{"x": 1},
		"list":   []any{"a"},
		"null":   nil,
	})
	assert.Equal(t, map[string]string{
		"cmd":   "ls -la",
		"flag":  "true",
		"count": "3",
		"ratio": "2.5",
	}, got)

	assert.Nil(t, NarrowInput(nil))
	assert.Nil(t, NarrowInput(map[string]any{"only": []any{1}}))
}
