// Package chat implements the tool-calling conversation loop: it carries
// the transcript to the model, executes requested tools, and returns the
// model's final reply.
package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You are an expert Google Cloud Platform architect and engineer. You have deep knowledge of all GCP services, best practices, pricing, and architecture patterns. You remember facts about the user and their projects to give personalized advice. You can inspect the user's project with the provided tools; use them whenever live data would improve the answer. Be concise, practical, and direct.`

// BuildSystemContext renders the system instruction. Known user facts are
// appended as a bullet list; with no facts the base persona is returned
// unchanged. Keys are sorted so the instruction is deterministic.
func BuildSystemContext(facts map[string]any) string {
	if len(facts) == 0 {
		return systemPrompt
	}

	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nWhat you know about the user:\n")
	for _, k := range keys {
		encoded, err := json.Marshal(facts[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(facts[k])))
		}
		fmt.Fprintf(&b, "- %s: %s\n", k, encoded)
	}
	return strings.TrimRight(b.String(), "\n")
}
