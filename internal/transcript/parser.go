package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/twistedxcom/agent-island/internal/logging"
)

var parseLog = logging.ForComponent(logging.CompTranscript)

// readWindow is how much transcript is read per pass. A single line
// larger than the window is discarded rather than parsed; tool outputs
// can be huge but a line beyond this is not worth rendering.
const readWindow = 10 * 1024 * 1024

// Parser reads Claude Code transcripts incrementally. It keeps per-session
// consumption state (file path, byte offset, accumulated blocks and tool
// lookups) so repeated parses only touch new data.
//
// Safe for concurrent use; all session state is guarded by one mutex.
type Parser struct {
	configDir string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	path         string
	offset       int64
	pendingClear bool

	blocks     []Block
	completed  map[string]bool
	results    map[string]ToolResult
	structured map[string]StructuredResult
	summary    Summary
}

// New creates a parser rooted at the Claude config directory
// (the parent of the projects/ transcript tree).
func New(configDir string) *Parser {
	return &Parser{
		configDir: configDir,
		sessions:  make(map[string]*sessionState),
	}
}

func newSessionState() *sessionState {
	return &sessionState{
		completed:  make(map[string]bool),
		results:    make(map[string]ToolResult),
		structured: make(map[string]StructuredResult),
	}
}

func (st *sessionState) reset() {
	st.offset = 0
	st.pendingClear = false
	st.blocks = nil
	st.completed = make(map[string]bool)
	st.results = make(map[string]ToolResult)
	st.structured = make(map[string]StructuredResult)
	st.summary = Summary{}
}

func (p *Parser) session(sessionID string) *sessionState {
	st, ok := p.sessions[sessionID]
	if !ok {
		st = newSessionState()
		p.sessions[sessionID] = st
	}
	return st
}

// RegisterTranscript pins the transcript file for a session to an explicit
// path (hook notifications carry it for agents whose transcripts live
// outside the Claude project tree). A path change resets consumption state
// and marks the next incremental parse as a clear.
func (p *Parser) RegisterTranscript(sessionID, path string) {
	if sessionID == "" || path == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.session(sessionID)
	if st.path == path {
		return
	}
	if st.path != "" {
		st.reset()
		st.pendingClear = true
	}
	st.path = path
}

// Forget drops all consumption state for a session.
func (p *Parser) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

func (p *Parser) registeredPath(sessionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sessions[sessionID]; ok {
		return st.path
	}
	return ""
}

// ParseIncremental consumes transcript content appended since the last
// parse. ClearDetected is reported when the file shrank below the consumed
// offset or the transcript path changed; in that case accumulated state is
// reset and the whole file is returned as new blocks.
func (p *Parser) ParseIncremental(sessionID, cwd string) (Incremental, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.session(sessionID)
	if err := p.resolvePath(st, sessionID, cwd); err != nil {
		return Incremental{}, err
	}

	info, err := os.Stat(st.path)
	if err != nil {
		return Incremental{}, fmt.Errorf("stat transcript: %w", err)
	}

	clear := st.pendingClear
	if info.Size() < st.offset {
		// Truncated or replaced in place: the conversation was cleared.
		clear = true
	}
	if clear {
		st.reset()
	}

	newBlocks, err := p.consumeLocked(st)
	if err != nil {
		return Incremental{}, err
	}

	return Incremental{
		NewBlocks:         newBlocks,
		CompletedToolIDs:  copyBoolMap(st.completed),
		ToolResults:       copyResultMap(st.results),
		StructuredResults: copyStructuredMap(st.structured),
		ClearDetected:     clear,
	}, nil
}

// ParseFullConversation returns every block parsed so far, consuming any
// unread transcript data first.
func (p *Parser) ParseFullConversation(sessionID, cwd string) ([]Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.session(sessionID)
	if err := p.resolvePath(st, sessionID, cwd); err != nil {
		return nil, err
	}
	if _, err := p.consumeLocked(st); err != nil {
		return nil, err
	}

	out := make([]Block, len(st.blocks))
	copy(out, st.blocks)
	return out, nil
}

// CompletedToolIDs returns the ids of tools with a recorded result.
func (p *Parser) CompletedToolIDs(sessionID string) map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sessions[sessionID]; ok {
		return copyBoolMap(st.completed)
	}
	return map[string]bool{}
}

// ToolResults returns the per-tool textual results seen so far.
func (p *Parser) ToolResults(sessionID string) map[string]ToolResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sessions[sessionID]; ok {
		return copyResultMap(st.results)
	}
	return map[string]ToolResult{}
}

// StructuredResults returns the per-tool opaque completion payloads.
func (p *Parser) StructuredResults(sessionID string) map[string]StructuredResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sessions[sessionID]; ok {
		return copyStructuredMap(st.structured)
	}
	return map[string]StructuredResult{}
}

// Summary returns conversation metadata, consuming unread data first.
func (p *Parser) Summary(sessionID, cwd string) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.session(sessionID)
	if err := p.resolvePath(st, sessionID, cwd); err != nil {
		return st.summary
	}
	if _, err := p.consumeLocked(st); err != nil {
		parseLog.Debug("summary_refresh_failed",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}
	return st.summary
}

// ParseSubagentTools reads the agent-<id>.jsonl sidecar transcript written
// for a Task subagent and returns its tool invocations in order.
func (p *Parser) ParseSubagentTools(agentID, cwd, sessionID string) ([]SubagentTool, error) {
	path, err := p.subagentTranscriptPath(agentID, cwd, sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subagent transcript: %w", err)
	}

	var tools []SubagentTool
	index := make(map[string]int)
	for _, raw := range splitLines(data) {
		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		var msg messagePayload
		if len(line.Message) > 0 {
			_ = json.Unmarshal(line.Message, &msg)
		}
		switch line.Type {
		case "assistant":
			for _, cb := range decodeContentBlocks(msg.Content) {
				if cb.Type != "tool_use" || cb.ID == "" {
					continue
				}
				index[cb.ID] = len(tools)
				tools = append(tools, SubagentTool{
					ID:        cb.ID,
					Name:      cb.Name,
					Input:     decodeInputMap(cb.Input),
					Timestamp: line.Timestamp,
				})
			}
		case "user":
			for _, cb := range decodeContentBlocks(msg.Content) {
				if cb.Type != "tool_result" || cb.ToolUseID == "" {
					continue
				}
				if i, ok := index[cb.ToolUseID]; ok {
					tools[i].Completed = true
				}
			}
		}
	}
	return tools, nil
}

// resolvePath fills st.path via discovery when no explicit registration
// happened yet.
func (p *Parser) resolvePath(st *sessionState, sessionID, cwd string) error {
	if st.path != "" {
		return nil
	}
	path, err := p.discoverTranscriptPath(sessionID, cwd)
	if err != nil {
		return err
	}
	st.path = path
	return nil
}

// consumeLocked reads complete lines appended past the current offset and
// folds them into the session state. Returns the blocks produced by the
// newly consumed lines.
//
// The file is read window by window. A line that overflows a whole window
// is discarded through its newline so the offset always advances; a
// partially flushed trailing line is left for the next pass.
func (p *Parser) consumeLocked(st *sessionState) ([]Block, error) {
	f, err := os.Open(st.path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var newBlocks []Block
	for {
		if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek transcript: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(f, readWindow))
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		if len(data) == 0 {
			break
		}

		consumed := len(data)
		if data[consumed-1] != '\n' {
			if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
				consumed = i + 1
			} else {
				consumed = 0
			}
		}

		if consumed == 0 {
			if len(data) < readWindow {
				// Incomplete trailing line, wait for the writer.
				break
			}
			// One line filled the whole window. Discard it through its
			// newline; any unterminated remainder parses as a malformed
			// line on a later pass and is skipped like any other.
			skipped, err := skipPastNewline(f)
			if err != nil {
				return newBlocks, fmt.Errorf("skip oversized line: %w", err)
			}
			st.offset += int64(len(data)) + skipped
			parseLog.Warn("oversized transcript line discarded",
				slog.String("path", st.path),
				slog.Int64("bytes", int64(len(data))+skipped))
			continue
		}

		st.offset += int64(consumed)
		for _, raw := range splitLines(data[:consumed]) {
			newBlocks = append(newBlocks, st.consumeLine(raw)...)
		}
	}
	st.blocks = append(st.blocks, newBlocks...)
	return newBlocks, nil
}

// skipPastNewline advances the file to just past the next newline,
// returning how many bytes were skipped. At EOF without a newline the
// whole remainder is skipped.
func skipPastNewline(f *os.File) (int64, error) {
	buf := make([]byte, 64*1024)
	var skipped int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
				return skipped + int64(i) + 1, nil
			}
			skipped += int64(n)
		}
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// Wire shapes of a transcript line.
type transcriptLine struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid"`
	Timestamp     time.Time       `json:"timestamp"`
	Summary       string          `json:"summary"`
	Message       json.RawMessage `json:"message"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type messagePayload struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type structuredPayload struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	AgentID string `json:"agentId"`
}

// consumeLine folds one transcript line into the session state and returns
// the displayable blocks it yields. Malformed lines are skipped.
func (st *sessionState) consumeLine(raw []byte) []Block {
	var line transcriptLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil
	}

	if !line.Timestamp.IsZero() && line.Timestamp.After(st.summary.LastTimestamp) {
		st.summary.LastTimestamp = line.Timestamp
	}

	switch line.Type {
	case "summary":
		if line.Summary != "" {
			st.summary.Text = line.Summary
		}
		return nil
	case "user", "assistant":
		// handled below
	default:
		return nil
	}

	st.summary.MessageCount++

	var msg messagePayload
	if len(line.Message) > 0 {
		if err := json.Unmarshal(line.Message, &msg); err != nil {
			return nil
		}
	}

	// User messages may carry plain string content.
	var asString string
	if line.Type == "user" && json.Unmarshal(msg.Content, &asString) == nil {
		return []Block{textBlock(line, 0, BlockUserText, asString)}
	}

	var blocks []Block
	for i, cb := range decodeContentBlocks(msg.Content) {
		switch cb.Type {
		case "text":
			kind := BlockAssistantText
			if line.Type == "user" {
				kind = BlockUserText
			}
			if cb.Text == "" {
				continue
			}
			blocks = append(blocks, textBlock(line, i, kind, cb.Text))
		case "thinking":
			if cb.Thinking == "" {
				continue
			}
			blocks = append(blocks, textBlock(line, i, BlockThinking, cb.Thinking))
		case "tool_use":
			if cb.ID == "" {
				continue
			}
			blocks = append(blocks, Block{
				MessageID: line.UUID,
				Index:     i,
				Kind:      BlockToolUse,
				ToolID:    cb.ID,
				ToolName:  cb.Name,
				ToolInput: decodeInputMap(cb.Input),
				Timestamp: line.Timestamp,
			})
		case "tool_result":
			if cb.ToolUseID == "" {
				continue
			}
			st.recordToolResult(cb, line.ToolUseResult)
		}
	}
	return blocks
}

func textBlock(line transcriptLine, index int, kind BlockKind, text string) Block {
	if text == InterruptedMarker {
		kind = BlockInterrupted
	}
	return Block{
		MessageID: line.UUID,
		Index:     index,
		Kind:      kind,
		Text:      text,
		Timestamp: line.Timestamp,
	}
}

func (st *sessionState) recordToolResult(cb contentBlock, structured json.RawMessage) {
	st.completed[cb.ToolUseID] = true

	result := ToolResult{}
	if len(structured) > 0 {
		var payload structuredPayload
		if json.Unmarshal(structured, &payload) == nil {
			result.Stdout = payload.Stdout
			result.Stderr = payload.Stderr
		}
		st.structured[cb.ToolUseID] = StructuredResult{
			Raw:     append(json.RawMessage(nil), structured...),
			AgentID: extractAgentID(structured),
		}
	}
	content := contentText(cb.Content)
	if cb.IsError && result.Stderr == "" {
		result.Stderr = content
	} else {
		result.Content = content
	}
	st.results[cb.ToolUseID] = result
}

func extractAgentID(structured json.RawMessage) string {
	var payload structuredPayload
	if json.Unmarshal(structured, &payload) == nil {
		return payload.AgentID
	}
	return ""
}

// contentText flattens a tool_result content value, which is either a
// plain string or an array of text blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString
	}
	var parts []contentBlock
	if json.Unmarshal(raw, &parts) == nil {
		for _, part := range parts {
			if part.Type == "text" && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

func decodeContentBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// decodeInputMap decodes a tool_use input object. Numbers are kept as
// json.Number so later display narrowing preserves their exact text.
func decodeInputMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyResultMap(m map[string]ToolResult) map[string]ToolResult {
	out := make(map[string]ToolResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStructuredMap(m map[string]StructuredResult) map[string]StructuredResult {
	out := make(map[string]StructuredResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
