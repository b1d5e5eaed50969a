package orchestrator

import (
	"regexp"
	"strings"
)

// truncateResult caps s at max characters, appending a truncation
// marker (spec.md §8 "tool result > 2000 chars carries a truncation
// marker"). The full, untruncated text is still fed back to the model
// separately — only the transport-facing copy is capped (this module
// resolves Open Question #1 this way: truncate for transport, keep the
// full text for the model).
func truncateResult(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + toolResultTruncateNote
}

var idFieldPattern = regexp.MustCompile(`(?i)^(.*_id|id|.*_guid|guid)$`)

// extractEntities performs the best-effort, string-scanning entity
// extraction from a tool's structured result described in spec.md §3
// ("scan the structured result for known id-shaped fields"). It never
// fails; a result with no id-shaped fields simply yields nothing.
func extractEntities(toolName string, metadata map[string]interface{}) map[string]string {
	found := make(map[string]string)
	for k, v := range metadata {
		if !idFieldPattern.MatchString(k) {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		found[toolName+"."+k] = s
	}
	return found
}

var generativeVerbs = []string{
	"write", "compose", "draft", "poem", "story",
	"напиши", "сочини", "составь текст",
}

var tableListMarkers = []string{"|", "- ", "1.", "2."}

// shouldReuseLastStepOutput implements the "use-last-step-as-final"
// heuristics of spec.md §4.1 Final answer synthesis.
func shouldReuseLastStepOutput(userRequest string, stepCount int, lastStepOutput string) bool {
	if stepCount == 1 {
		return true
	}

	lower := strings.ToLower(userRequest)
	for _, v := range generativeVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}

	wantsStructured := strings.Contains(lower, "table") || strings.Contains(lower, "list") ||
		strings.Contains(lower, "таблиц") || strings.Contains(lower, "список")
	if wantsStructured && len(lastStepOutput) > 200 {
		for _, marker := range tableListMarkers {
			if strings.Contains(lastStepOutput, marker) {
				return true
			}
		}
	}

	return false
}
