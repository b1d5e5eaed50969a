package orchestrator

import (
	"encoding/json"
	"strconv"
	"strings"
)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"первый": 1, "второй": 2, "третий": 3, "четвёртый": 4, "пятый": 5,
}

// extractAssistanceRequest scans step output for the sentinel header
// followed by a JSON object describing the assistance request
// (spec.md §4.1 "User assistance"). Returns ok=false if absent or the
// JSON fails to parse.
func extractAssistanceRequest(output string) (*AssistanceRequest, bool) {
	idx := strings.Index(output, assistanceSentinel)
	if idx < 0 {
		return nil, false
	}
	rest := output[idx+len(assistanceSentinel):]
	start := strings.Index(rest, "{")
	if start < 0 {
		return nil, false
	}
	end := lastJSONObjectEnd(rest[start:])
	if end < 0 {
		return nil, false
	}

	var req AssistanceRequest
	if err := json.Unmarshal([]byte(rest[start:start+end]), &req); err != nil {
		return nil, false
	}
	return &req, true
}

// lastJSONObjectEnd finds the index one past the closing brace that
// matches the opening brace at position 0 of s, accounting for nesting.
func lastJSONObjectEnd(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// containsCriticalFailure reports whether step output signals the
// critical-failure marker (spec.md §4.1 step 6).
func containsCriticalFailure(output string) bool {
	return strings.Contains(output, criticalFailureMarker)
}

// matchAssistanceOption resolves a free-text user response to one of
// req.Options using, in order: a leading integer as an ordinal index;
// an ordinal word; an exact option id; a case-insensitive substring of
// the label; a substring match against any string field of
// option.Data (spec.md §4.1 "User assistance").
func matchAssistanceOption(req *AssistanceRequest, response string) (*AssistanceOption, bool) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" || len(req.Options) == 0 {
		return nil, false
	}

	if n, err := strconv.Atoi(firstToken(trimmed)); err == nil {
		if idx := n - 1; idx >= 0 && idx < len(req.Options) {
			return &req.Options[idx], true
		}
	}

	lower := strings.ToLower(trimmed)
	for word, n := range ordinalWords {
		if strings.Contains(lower, word) {
			if idx := n - 1; idx >= 0 && idx < len(req.Options) {
				return &req.Options[idx], true
			}
		}
	}

	for i := range req.Options {
		if req.Options[i].ID == trimmed {
			return &req.Options[i], true
		}
	}

	for i := range req.Options {
		if strings.Contains(strings.ToLower(req.Options[i].Label), lower) {
			return &req.Options[i], true
		}
	}

	for i := range req.Options {
		for _, v := range req.Options[i].Data {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lower) {
				return &req.Options[i], true
			}
		}
	}

	return nil, false
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
