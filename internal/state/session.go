package state

import (
	"path/filepath"
	"time"
)

// session is the mutable per-agent-context record. Owned exclusively by
// the processor; nothing outside the processor's dispatch path mutates it.
type session struct {
	ID             string
	CWD            string
	DisplayName    string
	Agent          AgentKind
	TranscriptPath string
	Phase          Phase
	LastActivity   time.Time
	LastUserInput  time.Time

	Items     []ChatItem
	itemIndex map[string]int // identity key -> position in Items

	tools     *toolTracker
	subagents *subagentTracker

	needsReconcile bool

	SummaryText   string
	MessageCount  int
	LastTimestamp time.Time
}

func newSession(id, cwd string, agent AgentKind) *session {
	return &session{
		ID:          id,
		CWD:         cwd,
		DisplayName: displayName(id, cwd),
		Agent:       agent,
		Phase:       PhaseIdle,
		itemIndex:   make(map[string]int),
		tools:       newToolTracker(),
		subagents:   newSubagentTracker(),
	}
}

// displayName derives a human-readable session name from the working
// directory, falling back to a session id prefix.
func displayName(id, cwd string) string {
	if base := filepath.Base(cwd); base != "" && base != "." && base != string(filepath.Separator) {
		return base
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// item returns a pointer to the item with the given key, or nil.
func (s *session) item(key string) *ChatItem {
	if i, ok := s.itemIndex[key]; ok {
		return &s.Items[i]
	}
	return nil
}

// appendItem adds a new item, keeping the key index current.
func (s *session) appendItem(it ChatItem) {
	s.itemIndex[it.Key] = len(s.Items)
	s.Items = append(s.Items, it)
}

// reindex rebuilds the key index after the item slice was reordered or
// filtered.
func (s *session) reindex() {
	s.itemIndex = make(map[string]int, len(s.Items))
	for i, it := range s.Items {
		s.itemIndex[it.Key] = i
	}
}

// SessionSnapshot is an immutable copy of one session's state, published
// to consumers after every processed event.
type SessionSnapshot struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	CWD            string     `json:"cwd"`
	Agent          AgentKind  `json:"agent"`
	TranscriptPath string     `json:"transcript_path,omitempty"`
	Phase          Phase      `json:"phase"`
	LastActivity   time.Time  `json:"last_activity"`
	LastUserInput  time.Time  `json:"last_user_input,omitempty"`
	Items          []ChatItem `json:"items"`
	SummaryText    string     `json:"summary,omitempty"`
	MessageCount   int        `json:"message_count"`
	LastTimestamp  time.Time  `json:"last_timestamp,omitempty"`
}

// snapshot deep-copies the session for publication.
func (s *session) snapshot() SessionSnapshot {
	items := make([]ChatItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = it.clone()
	}
	return SessionSnapshot{
		ID:             s.ID,
		DisplayName:    s.DisplayName,
		CWD:            s.CWD,
		Agent:          s.Agent,
		TranscriptPath: s.TranscriptPath,
		Phase:          s.Phase,
		LastActivity:   s.LastActivity,
		LastUserInput:  s.LastUserInput,
		Items:          items,
		SummaryText:    s.SummaryText,
		MessageCount:   s.MessageCount,
		LastTimestamp:  s.LastTimestamp,
	}
}
