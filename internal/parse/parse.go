// Package parse provides pure text-parsing helpers for model output:
// reasoning/answer extraction, partial-JSON repair, and tool-call scanning.
// No function in this package performs I/O.
package parse

import (
	"encoding/json"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// wrapperTags are the outer tags SanitizeReasoningContent unwraps.
var wrapperTags = []string{"think", "reasoning", "reasoning_content", "reasoning_trace", "tool_call"}

// ThinkResult is the outcome of splitting text on the first think span.
type ThinkResult struct {
	Reasoning    string
	Answer       string
	HasThinkTags bool
}

// ParseThinkTags splits text into reasoning and answer. The first
// <think>...</think> span is reasoning; everything outside it is answer.
// Without the tag the entire text is the answer.
func ParseThinkTags(text string) ThinkResult {
	start := strings.Index(text, thinkOpen)
	if start < 0 {
		return ThinkResult{Answer: strings.TrimSpace(text)}
	}

	rest := text[start+len(thinkOpen):]
	end := strings.Index(rest, thinkClose)
	if end < 0 {
		// Unterminated tag: everything after the open marker is reasoning.
		return ThinkResult{
			Reasoning:    strings.TrimSpace(rest),
			Answer:       strings.TrimSpace(text[:start]),
			HasThinkTags: true,
		}
	}

	reasoning := rest[:end]
	answer := text[:start] + rest[end+len(thinkClose):]
	return ThinkResult{
		Reasoning:    strings.TrimSpace(reasoning),
		Answer:       strings.TrimSpace(answer),
		HasThinkTags: true,
	}
}

// CombineReasoningContent re-wraps reasoning and answer into the tag
// convention ParseThinkTags consumes. Empty reasoning yields the answer
// unchanged.
func CombineReasoningContent(reasoning, answer string) string {
	reasoning = strings.TrimSpace(reasoning)
	answer = strings.TrimSpace(answer)
	if reasoning == "" {
		return answer
	}
	return thinkOpen + reasoning + thinkClose + "\n" + answer
}

// JSONResult reports a structured-extraction attempt over streaming or
// complete text.
type JSONResult struct {
	Data          map[string]any
	IsComplete    bool
	MissingFields []string
	Error         error
}

// ExtractJSONFields locates the first {...} span in text and parses it,
// attempting a bounded repair (trailing commas, unbalanced braces) when the
// strict parse fails. requiredFields still absent after parsing are listed
// in MissingFields, which supports rendering partial JSON mid-stream.
func ExtractJSONFields(text string, requiredFields []string) JSONResult {
	start := strings.Index(text, "{")
	if start < 0 {
		return JSONResult{MissingFields: requiredFields}
	}

	span := jsonSpan(text[start:])

	var data map[string]any
	complete := true
	if err := json.Unmarshal([]byte(span), &data); err != nil {
		repaired := repairJSON(span)
		if err2 := json.Unmarshal([]byte(repaired), &data); err2 != nil {
			return JSONResult{MissingFields: requiredFields, Error: err}
		}
		complete = false
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
			complete = false
		}
	}

	return JSONResult{Data: data, IsComplete: complete, MissingFields: missing}
}

// jsonSpan returns the prefix of s covering the first balanced {...} object,
// or all of s when the object is still open (mid-stream).
func jsonSpan(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return s
}

// repairJSON applies a bounded fix-up: strips trailing commas and closes
// unbalanced braces/brackets by counting. It does not attempt to repair
// broken string literals beyond closing an open quote.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)

	// Close an open string literal first so bracket counting sees the rest.
	if n := countUnescapedQuotes(s); n%2 == 1 {
		s += `"`
	}

	// Strip a trailing comma (possibly followed by whitespace).
	trimmed := strings.TrimRight(s, " \t\r\n")
	trimmed = strings.TrimSuffix(trimmed, ",")

	// Count open brackets outside strings and close them in reverse order.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func countUnescapedQuotes(s string) int {
	n := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			n++
		}
	}
	return n
}

// ToolCall is one parsed tool invocation extracted from model output.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolCalls scans for <tool_call>{json}</tool_call> spans and parses
// each independently. Malformed spans are skipped silently: tool-call
// corruption must not abort the rest of the parse.
func ParseToolCalls(text string) []ToolCall {
	var calls []ToolCall
	for {
		start := strings.Index(text, toolCallOpen)
		if start < 0 {
			return calls
		}
		rest := text[start+len(toolCallOpen):]
		end := strings.Index(rest, toolCallClose)
		if end < 0 {
			return calls
		}

		var call ToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &call); err == nil && call.Name != "" {
			calls = append(calls, call)
		}
		text = rest[end+len(toolCallClose):]
	}
}

// SanitizeReasoningContent strips code-fence wrappers and repeatedly unwraps
// known outer tag wrappers until a fixpoint. Every unwrap strictly shortens
// the string, so the loop terminates on any input.
func SanitizeReasoningContent(text string) string {
	s := strings.TrimSpace(text)
	for {
		next := stripCodeFence(s)
		next = stripWrapperTag(next)
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

// stripCodeFence removes a single outer ```...``` fence, tolerating a
// language hint after the opening backticks.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}

// stripWrapperTag removes a single outer <tag>...</tag> pair for any known
// wrapper tag.
func stripWrapperTag(s string) string {
	for _, tag := range wrapperTags {
		open := "<" + tag + ">"
		clos := "</" + tag + ">"
		if strings.HasPrefix(s, open) && strings.HasSuffix(s, clos) && len(s) >= len(open)+len(clos) {
			return s[len(open) : len(s)-len(clos)]
		}
	}
	return s
}
