package chat

import (
	"strings"
	"testing"
)

func TestBuildSystemContextNoFacts(t *testing.T) {
	got := BuildSystemContext(nil)
	if got != systemPrompt {
		t.Errorf("empty facts must return the base persona unchanged")
	}
	if strings.Contains(got, "What you know about the user") {
		t.Error("facts section present with no facts")
	}
}

func TestBuildSystemContextWithFacts(t *testing.T) {
	got := BuildSystemContext(map[string]any{
		"preferred_region": "us-east1",
		"main_project":     "demo-project",
	})

	if !strings.HasPrefix(got, systemPrompt) {
		t.Error("persona must lead the instruction")
	}
	if !strings.Contains(got, "What you know about the user:") {
		t.Error("missing facts section header")
	}
	// Keys sorted, values JSON-encoded.
	mainIdx := strings.Index(got, `- main_project: "demo-project"`)
	regionIdx := strings.Index(got, `- preferred_region: "us-east1"`)
	if mainIdx == -1 || regionIdx == -1 {
		t.Fatalf("missing fact lines:\n%s", got)
	}
	if mainIdx > regionIdx {
		t.Error("fact keys not sorted")
	}
}

func TestBuildSystemContextNonStringValues(t *testing.T) {
	got := BuildSystemContext(map[string]any{
		"vm_count": float64(3),
		"services": []any{"run", "pubsub"},
	})
	if !strings.Contains(got, "- vm_count: 3") {
		t.Errorf("numeric fact not encoded:\n%s", got)
	}
	if !strings.Contains(got, `- services: ["run","pubsub"]`) {
		t.Errorf("list fact not encoded:\n%s", got)
	}
}
