package state

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/twistedxcom/agent-island/internal/transcript"
)

// mergeLookups are the side-lookups consulted while converting parsed
// blocks into chat items.
type mergeLookups struct {
	completed  map[string]bool
	results    map[string]transcript.ToolResult
	structured map[string]transcript.StructuredResult
}

// mergeBlocks folds parsed transcript blocks into the session's chat
// items. Incremental mode appends new items in arrival order, upserting
// existing tool ids in place without reordering; full mode reprocesses
// every block against the existing list and then resorts the whole
// sequence by timestamp. Both modes are idempotent.
func (s *session) mergeBlocks(blocks []transcript.Block, incremental bool, lk mergeLookups) {
	for _, b := range blocks {
		s.mergeBlock(b, lk)
	}
	if !incremental {
		sort.SliceStable(s.Items, func(i, j int) bool {
			return s.Items[i].Timestamp.Before(s.Items[j].Timestamp)
		})
		s.reindex()
	}
}

// mergeBlock upserts zero or one chat item for a block.
func (s *session) mergeBlock(b transcript.Block, lk mergeLookups) {
	if b.Kind == transcript.BlockToolUse {
		s.mergeToolBlock(b, lk)
		return
	}

	key := compositeKey(b.MessageID, itemKindForBlock(b.Kind), b.Index)
	if s.item(key) != nil {
		// Already rendered.
		return
	}
	s.appendItem(ChatItem{
		Key:       key,
		Kind:      itemKindForBlock(b.Kind),
		Text:      b.Text,
		Timestamp: b.Timestamp,
	})
}

func (s *session) mergeToolBlock(b transcript.Block, lk mergeLookups) {
	if s.tools.Seen(b.ToolID) {
		// Duplicate sighting: refresh name/input only, preserving
		// status, result and nested calls.
		if it := s.item(b.ToolID); it != nil && it.Tool != nil {
			it.Tool.Name = b.ToolName
			if input := NarrowInput(b.ToolInput); input != nil {
				it.Tool.Input = input
			}
		}
		return
	}

	s.tools.MarkStarted(b.ToolID)
	tool := &ToolCall{
		ID:     b.ToolID,
		Name:   b.ToolName,
		Input:  NarrowInput(b.ToolInput),
		Status: ToolRunning,
	}
	if lk.completed[b.ToolID] {
		s.tools.MarkCompleted(b.ToolID)
		tool.Status = ToolSuccess
		tool.Result = lk.results[b.ToolID].Text()
	}
	if sr, ok := lk.structured[b.ToolID]; ok {
		tool.Structured = append(json.RawMessage(nil), sr.Raw...)
		tool.SubagentID = sr.AgentID
	}
	s.appendItem(ChatItem{
		Key:       b.ToolID,
		Kind:      ItemToolCall,
		Timestamp: b.Timestamp,
		Tool:      tool,
	})
}

func itemKindForBlock(kind transcript.BlockKind) ItemKind {
	switch kind {
	case transcript.BlockUserText:
		return ItemUserText
	case transcript.BlockAssistantText:
		return ItemAssistantText
	case transcript.BlockThinking:
		return ItemThinking
	case transcript.BlockInterrupted:
		return ItemInterrupted
	default:
		return ItemAssistantText
	}
}

// reconcileWindow protects placeholders created by hook notifications in
// the gap between a clear event and the transcript catching up.
const reconcileWindow = 2 * time.Second

// reconcileClear prunes items that vanished from the post-clear
// transcript. Items whose key appears in the fresh payload survive, as do
// items younger than the reconcile window. Both trackers reset.
func (s *session) reconcileClear(blocks []transcript.Block, now time.Time) {
	valid := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.Kind == transcript.BlockToolUse {
			valid[b.ToolID] = true
		} else {
			valid[compositeKey(b.MessageID, itemKindForBlock(b.Kind), b.Index)] = true
		}
	}

	kept := s.Items[:0]
	for _, it := range s.Items {
		if valid[it.Key] || now.Sub(it.Timestamp) <= reconcileWindow {
			kept = append(kept, it)
		}
	}
	s.Items = kept
	s.reindex()
	s.tools.Reset()
	s.subagents.Reset()
	for _, it := range s.Items {
		if it.Tool == nil {
			continue
		}
		s.tools.MarkStarted(it.Tool.ID)
		if it.Tool.Status.Terminal() {
			s.tools.MarkCompleted(it.Tool.ID)
		}
	}
	s.needsReconcile = false
}
