package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// claudeDirNameRegex matches any character that's not alphanumeric or hyphen.
// Claude Code replaces all such characters with hyphens in project directory names.
var claudeDirNameRegex = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// ConvertToClaudeDirName converts a filesystem path to Claude's directory
// naming format. Example: /Users/me/Code cloud/!Project → -Users-me-Code-cloud--Project
func ConvertToClaudeDirName(path string) string {
	return claudeDirNameRegex.ReplaceAllString(path, "-")
}

// projectDir returns the Claude project directory that holds transcripts
// for a working directory.
func (p *Parser) projectDir(cwd string) string {
	return filepath.Join(p.configDir, "projects", ConvertToClaudeDirName(cwd))
}

// discoverTranscriptPath locates the transcript file for a session under
// the Claude project directory. Sessions registered with an explicit path
// (from a hook notification) bypass discovery.
func (p *Parser) discoverTranscriptPath(sessionID, cwd string) (string, error) {
	path := filepath.Join(p.projectDir(cwd), sessionID+".jsonl")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("transcript for session %s: %w", sessionID, err)
	}
	return path, nil
}

// subagentTranscriptPath locates the agent-<id>.jsonl sidecar file written
// for a Task subagent. It is searched next to the parent session's
// transcript first, then in the cwd's project directory.
func (p *Parser) subagentTranscriptPath(agentID, cwd, sessionID string) (string, error) {
	var dirs []string
	if path := p.registeredPath(sessionID); path != "" {
		dirs = append(dirs, filepath.Dir(path))
	}
	dirs = append(dirs, p.projectDir(cwd))

	name := "agent-" + agentID + ".jsonl"
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("subagent transcript %s not found", name)
}
