package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"

	"github.com/koopa0/nimbus/internal/gemini"
	"github.com/koopa0/nimbus/internal/log"
	"github.com/koopa0/nimbus/internal/store"
)

// scriptedModel replays canned responses in order and records the
// requests it saw.
type scriptedModel struct {
	responses []*genai.Content
	err       error
	requests  []*gemini.Request
	calls     int
}

func (m *scriptedModel) next(req *gemini.Request) (*genai.Content, error) {
	m.requests = append(m.requests, cloneRequest(req))
	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("unexpected model call %d", m.calls+1)
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *scriptedModel) Generate(_ context.Context, req *gemini.Request) (*genai.Content, error) {
	return m.next(req)
}

func (m *scriptedModel) GenerateStream(_ context.Context, req *gemini.Request, onText func(string) error) (*genai.Content, error) {
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	for _, part := range content.Parts {
		if part.Text != "" && onText != nil {
			if err := onText(part.Text); err != nil {
				return nil, err
			}
		}
	}
	return content, nil
}

// cloneRequest snapshots the history slice, which the loop mutates
// between rounds.
func cloneRequest(req *gemini.Request) *gemini.Request {
	cp := *req
	cp.History = append([]*genai.Content(nil), req.History...)
	return &cp
}

// recordingTools records executed calls and returns canned outputs.
type recordingTools struct {
	mu      sync.Mutex
	outputs map[string]string
	seen    []string
}

func (r *recordingTools) GenAITools() []*genai.Tool {
	return []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: "stub"}}}}
}

func (r *recordingTools) Execute(_ context.Context, name string, _ map[string]any) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, name)
	if out, ok := r.outputs[name]; ok {
		return out
	}
	return "ok"
}

func textContent(text string) *genai.Content {
	return genai.NewContentFromText(text, genai.RoleModel)
}

func callContent(names ...string) *genai.Content {
	parts := make([]*genai.Part, len(names))
	for i, name := range names {
		parts[i] = &genai.Part{FunctionCall: &genai.FunctionCall{ID: fmt.Sprintf("call-%d", i), Name: name}}
	}
	return &genai.Content{Role: string(genai.RoleModel), Parts: parts}
}

func newLoop(t *testing.T, model ModelClient, tools Executor, maxRounds int) *Loop {
	t.Helper()
	l, err := NewLoop(model, tools, "gemini-2.5-flash", maxRounds, log.NewNop())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func TestRunPlainReply(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{textContent("hello there")}}
	l := newLoop(t, model, &recordingTools{}, 8)

	res, err := l.Run(context.Background(), nil, "hi", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "hello there" || res.Rounds != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestRunToolRoundThenReply(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{
		callContent("listCloudRunServices", "listPubSubTopics"),
		textContent("you have 2 services"),
	}}
	tools := &recordingTools{outputs: map[string]string{
		"listCloudRunServices": "• api",
		"listPubSubTopics":     "• events",
	}}
	l := newLoop(t, model, tools, 8)

	res, err := l.Run(context.Background(), nil, "what's running?", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "you have 2 services" || res.Rounds != 2 {
		t.Errorf("res = %+v", res)
	}

	tools.mu.Lock()
	executed := len(tools.seen)
	tools.mu.Unlock()
	if executed != 2 {
		t.Errorf("executed %d tools, want 2", executed)
	}

	// The second request must carry: user msg, model call turn, and one
	// combined response content with results in call order.
	second := model.requests[1].History
	last := second[len(second)-1]
	if last.Role != string(genai.RoleUser) {
		t.Errorf("response content role = %s, want user", last.Role)
	}
	if len(last.Parts) != 2 {
		t.Fatalf("response parts = %d, want 2", len(last.Parts))
	}
	first := last.Parts[0].FunctionResponse
	if first == nil || first.Name != "listCloudRunServices" {
		t.Errorf("parts[0] = %+v, want listCloudRunServices response", last.Parts[0])
	}
	if got := first.Response["output"]; got != "• api" {
		t.Errorf("parts[0] output = %v", got)
	}
	if second := last.Parts[1].FunctionResponse; second == nil || second.Name != "listPubSubTopics" {
		t.Errorf("parts[1] = %+v, want listPubSubTopics response", last.Parts[1])
	}
}

func TestRunRoundLimit(t *testing.T) {
	// The model asks for tools forever.
	model := &scriptedModel{responses: []*genai.Content{
		callContent("stub"), callContent("stub"), callContent("stub"),
	}}
	l := newLoop(t, model, &recordingTools{}, 3)

	_, err := l.Run(context.Background(), nil, "loop forever", nil, nil)
	if !errors.Is(err, ErrRoundLimit) {
		t.Errorf("Run = %v, want ErrRoundLimit", err)
	}
	if model.calls != 3 {
		t.Errorf("model calls = %d, want 3", model.calls)
	}
}

func TestRunModelError(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	model := &scriptedModel{err: wantErr}
	l := newLoop(t, model, &recordingTools{}, 8)

	_, err := l.Run(context.Background(), nil, "hi", nil, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Run = %v, want wrapped %v", err, wantErr)
	}
}

func TestRunHistoryTranslation(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{textContent("ok")}}
	l := newLoop(t, model, &recordingTools{}, 8)

	history := []store.Message{
		{Role: store.RoleUser, Content: "first question"},
		{Role: store.RoleAssistant, Content: "first answer"},
		{Role: store.RoleError, Content: "Failed to generate response"},
	}
	if _, err := l.Run(context.Background(), history, "second question", nil, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := model.requests[0].History
	if len(sent) != 3 {
		t.Fatalf("history = %d contents, want 3 (error dropped)", len(sent))
	}
	if sent[0].Role != string(genai.RoleUser) || sent[1].Role != string(genai.RoleModel) || sent[2].Role != string(genai.RoleUser) {
		t.Errorf("roles = %s,%s,%s", sent[0].Role, sent[1].Role, sent[2].Role)
	}
	if sent[2].Parts[0].Text != "second question" {
		t.Errorf("new message = %q", sent[2].Parts[0].Text)
	}
}

func TestRunSystemContextCarriesFacts(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{textContent("ok")}}
	l := newLoop(t, model, &recordingTools{}, 8)

	facts := map[string]any{"main_project": "demo-project"}
	if _, err := l.Run(context.Background(), nil, "hi", facts, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sys := model.requests[0].System; !strings.Contains(sys, "main_project") {
		t.Errorf("system instruction missing facts: %q", sys)
	}
}

func TestRunStreamingForwardsChunks(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{
		callContent("stub"),
		textContent("streamed reply"),
	}}
	l := newLoop(t, model, &recordingTools{}, 8)

	var chunks []string
	res, err := l.Run(context.Background(), nil, "hi", nil, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reply != "streamed reply" {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(chunks) != 1 || chunks[0] != "streamed reply" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestRunStreamingOnChunkErrorAborts(t *testing.T) {
	model := &scriptedModel{responses: []*genai.Content{textContent("partial")}}
	l := newLoop(t, model, &recordingTools{}, 8)

	wantErr := errors.New("client went away")
	_, err := l.Run(context.Background(), nil, "hi", nil, func(string) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run = %v, want %v", err, wantErr)
	}
}
