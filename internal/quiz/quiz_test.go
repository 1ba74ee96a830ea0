package quiz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/koopa0/nimbus/internal/log"
)

type fakeGen struct {
	reply  string
	err    error
	prompt string
}

func (g *fakeGen) GenerateText(_ context.Context, _, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

const validQuestion = `{"q":"A retailer wants grounded answers over its catalog. What should it use?",
"options":["Agent Builder with grounding","Raw Gemini API","BigQuery ML","Cloud CDN"],
"correct":0,
"explanations":["A is correct because grounding ties answers to catalog data.","B is incorrect because it lacks grounding.","C is incorrect because it is for structured ML.","D is incorrect because it serves static content."]}`

func newService(t *testing.T, gen Generator) *Service {
	t.Helper()
	s, err := NewService(gen, "gemini-2.5-flash-lite", log.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestGenerate(t *testing.T) {
	gen := &fakeGen{reply: validQuestion}
	s := newService(t, gen)

	q, err := s.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if q.Correct != 0 || len(q.Options) != 4 || len(q.Explanations) != 4 {
		t.Errorf("question = %+v", q)
	}
	if !strings.Contains(gen.prompt, "0-based index") {
		t.Error("prompt missing format contract")
	}
}

func TestGenerateFencedOutput(t *testing.T) {
	s := newService(t, &fakeGen{reply: "```json\n" + validQuestion + "\n```"})

	if _, err := s.Generate(context.Background()); err != nil {
		t.Fatalf("Generate with fenced output: %v", err)
	}
}

func TestGeneratePicksKnownTopic(t *testing.T) {
	gen := &fakeGen{reply: validQuestion}
	s := newService(t, gen)
	s.pickTopic = func() string { return topics[1] }

	if _, err := s.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(gen.prompt, "Vertex AI, Model Garden") {
		t.Error("prompt missing selected topic")
	}
}

func TestGenerateModelError(t *testing.T) {
	wantErr := errors.New("unavailable")
	s := newService(t, &fakeGen{err: wantErr})

	if _, err := s.Generate(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Generate = %v, want wrapped model error", err)
	}
}

func TestGenerateRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "here is your question!"},
		{"empty question", `{"q":"","options":["a","b","c","d"],"correct":0,"explanations":["a","b","c","d"]}`},
		{"three options", `{"q":"x","options":["a","b","c"],"correct":0,"explanations":["a","b","c","d"]}`},
		{"correct out of range", `{"q":"x","options":["a","b","c","d"],"correct":4,"explanations":["a","b","c","d"]}`},
		{"missing explanations", `{"q":"x","options":["a","b","c","d"],"correct":1,"explanations":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t, &fakeGen{reply: tt.reply})
			if _, err := s.Generate(context.Background()); err == nil {
				t.Error("Generate: want error")
			}
		})
	}
}
