package perception

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the JSON object carried by an LLM response. Markdown
// code fences and surrounding prose are tolerated. When several valid
// objects are present the one closing last wins, so an outer object beats
// the objects nested in it. Returns "" when no valid object is found.
func ExtractJSON(response string) string {
	s := stripMarkdownCodeFences(response)
	if json.Valid([]byte(s)) && strings.HasPrefix(strings.TrimSpace(s), "{") {
		return strings.TrimSpace(s)
	}

	var (
		stack    []int
		inString bool
		escaped  bool
		best     string
		bestEnd  = -1
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			candidate := s[start : i+1]
			if !json.Valid([]byte(candidate)) {
				continue
			}
			if i > bestEnd {
				best, bestEnd = candidate, i
			}
		}
	}
	return best
}

// stripMarkdownCodeFences removes a ```lang ... ``` wrapper.
func stripMarkdownCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return s
	}
	lastFence := strings.LastIndex(trimmed, "```")
	if lastFence <= firstNewline {
		return s
	}
	return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
}
