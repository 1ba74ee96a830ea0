package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/koopa0/nimbus/internal/gemini"
	"github.com/koopa0/nimbus/internal/store"
)

// ErrRoundLimit is returned when the model keeps requesting tools past the
// configured round cap without producing a final answer.
var ErrRoundLimit = errors.New("conversation round limit exceeded")

// ModelClient is the model surface the loop needs. Satisfied by
// *gemini.Client; tests substitute scripted fakes.
type ModelClient interface {
	Generate(ctx context.Context, req *gemini.Request) (*genai.Content, error)
	GenerateStream(ctx context.Context, req *gemini.Request, onText func(string) error) (*genai.Content, error)
}

// Executor dispatches tool calls. Satisfied by *tools.Registry.
type Executor interface {
	GenAITools() []*genai.Tool
	Execute(ctx context.Context, name string, args map[string]any) string
}

// Loop drives one conversation turn: model call, tool fan-out, repeat
// until the model answers in plain text or the round cap is hit.
//
// Loop is stateless across calls and safe for concurrent use.
type Loop struct {
	model     ModelClient
	tools     Executor
	modelName string
	maxRounds int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewLoop creates a Loop.
func NewLoop(model ModelClient, tools Executor, modelName string, maxRounds int, logger *slog.Logger) (*Loop, error) {
	if model == nil {
		return nil, errors.New("model client is required")
	}
	if tools == nil {
		return nil, errors.New("tool executor is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if maxRounds < 1 {
		return nil, fmt.Errorf("max rounds must be positive, got %d", maxRounds)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:     model,
		tools:     tools,
		modelName: modelName,
		maxRounds: maxRounds,
		logger:    logger,
		tracer:    otel.Tracer("nimbus/chat"),
	}, nil
}

// Result is the outcome of one completed turn.
type Result struct {
	// Reply is the model's final plain-text answer.
	Reply string
	// Rounds is the number of model calls it took.
	Rounds int
}

// Run executes one conversation turn. history is the stored transcript,
// message the new user input, facts the user's memory for the system
// instruction. When onChunk is non-nil the model is called in streaming
// mode and onChunk receives each text delta as it arrives; an error from
// onChunk aborts the turn with that error.
func (l *Loop) Run(ctx context.Context, history []store.Message, message string, facts map[string]any, onChunk func(string) error) (*Result, error) {
	ctx, span := l.tracer.Start(ctx, "chat.Run")
	defer span.End()

	contents := translateHistory(history)
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	req := &gemini.Request{
		Model:  l.modelName,
		System: BuildSystemContext(facts),
		Tools:  l.tools.GenAITools(),
	}

	for round := 1; round <= l.maxRounds; round++ {
		req.History = contents

		var content *genai.Content
		var err error
		if onChunk != nil {
			content, err = l.model.GenerateStream(ctx, req, onChunk)
		} else {
			content, err = l.model.Generate(ctx, req)
		}
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		contents = append(contents, content)

		calls := functionCalls(content)
		if len(calls) == 0 {
			reply := textOf(content)
			span.SetAttributes(attribute.Int("chat.rounds", round))
			l.logger.Debug("turn complete", "rounds", round, "reply_len", len(reply))
			return &Result{Reply: reply, Rounds: round}, nil
		}

		l.logger.Debug("model requested tools", "round", round, "count", len(calls))
		contents = append(contents, l.executeAll(ctx, calls))
	}

	span.SetAttributes(attribute.Int("chat.rounds", l.maxRounds))
	return nil, fmt.Errorf("%w (%d rounds)", ErrRoundLimit, l.maxRounds)
}

// executeAll runs the round's tool calls concurrently and packages the
// results as one user content. Results are placed by call index so the
// response order always matches the call order regardless of completion
// order, and every call gets exactly one response.
func (l *Loop) executeAll(ctx context.Context, calls []*genai.FunctionCall) *genai.Content {
	ctx, span := l.tracer.Start(ctx, "chat.executeTools",
		trace.WithAttributes(attribute.Int("tools.count", len(calls))))
	defer span.End()

	parts := make([]*genai.Part, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := l.tools.Execute(ctx, call.Name, call.Args)
			parts[i] = &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"output": out},
			}}
		}()
	}
	wg.Wait()

	return &genai.Content{Role: string(genai.RoleUser), Parts: parts}
}

// translateHistory converts stored transcript messages to model contents.
// Assistant messages replay with the model role; error placeholders are
// dropped so a failed turn does not poison later ones.
func translateHistory(history []store.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case store.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case store.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

func textOf(content *genai.Content) string {
	var b strings.Builder
	for _, part := range content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
