// Package memory extracts durable user facts from finished conversation
// turns and merges them into the profile, asynchronously so the chat
// response is never delayed by memory work.
package memory

import (
	"encoding/json"
	"strings"
)

const extractPromptTemplate = `You extract personal facts about the user from conversations to help a GCP assistant remember them.

Existing known facts (JSON):
%s

New conversation:
User: %s
Assistant: %s

Extract any NEW facts about the user (their GCP projects, preferred services, tech stack, goals, preferences, etc.) that aren't already captured. Return ONLY a valid JSON object of new/updated facts, or {} if nothing new. Do not repeat existing facts unless they changed.

JSON only, no explanation:`

// parseFacts decodes the model's fact JSON. Markdown code fences are
// stripped first since models often wrap JSON in them. Malformed output
// yields an empty map, never an error: a bad extraction loses one turn's
// facts, which is acceptable, while failing the pipeline is not.
func parseFacts(raw string) map[string]any {
	cleaned := stripCodeFences(raw)

	var facts map[string]any
	if err := json.Unmarshal([]byte(cleaned), &facts); err != nil {
		return map[string]any{}
	}
	if facts == nil {
		return map[string]any{}
	}
	return facts
}

// stripCodeFences removes markdown code fences around a payload, with or
// without a language tag, closed or not.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.ContainsAny(s[:idx], "{}") {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
