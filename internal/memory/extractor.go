package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// extractTimeout bounds one background extraction end to end.
const extractTimeout = 30 * time.Second

// Generator is the single-shot text generation surface the extractor
// needs. Satisfied by *gemini.Client.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// FactMerger persists extracted facts. Satisfied by *store.Store.
type FactMerger interface {
	MergeFacts(ctx context.Context, userID string, facts map[string]any) error
}

// Extractor runs fact extraction in the background after each completed
// turn. Failures are logged and swallowed: memory is best-effort and must
// never surface errors into the chat path.
type Extractor struct {
	gen    Generator
	merger FactMerger
	model  string
	logger *slog.Logger

	// base outlives request contexts so in-flight extractions survive the
	// response being sent; it is cancelled at application shutdown.
	base context.Context
	wg   sync.WaitGroup
}

// NewExtractor creates an Extractor. base is the application lifecycle
// context; model names the fast model used for extraction prompts.
func NewExtractor(base context.Context, gen Generator, merger FactMerger, model string, logger *slog.Logger) (*Extractor, error) {
	if base == nil {
		return nil, errors.New("base context is required")
	}
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if merger == nil {
		return nil, errors.New("fact merger is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, merger: merger, model: model, logger: logger, base: base}, nil
}

// Launch schedules extraction for one finished turn and returns
// immediately. existing is the fact map that was current when the turn
// ran; it is shown to the model so only new facts come back.
func (e *Extractor) Launch(userID, userMessage, assistantReply string, existing map[string]any) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.base, extractTimeout)
		defer cancel()
		e.extract(ctx, userID, userMessage, assistantReply, existing)
	}()
}

// Wait blocks until all launched extractions finish. Called at shutdown
// so a fast exit does not drop facts from the last turns.
func (e *Extractor) Wait() {
	e.wg.Wait()
}

func (e *Extractor) extract(ctx context.Context, userID, userMessage, assistantReply string, existing map[string]any) {
	if existing == nil {
		existing = map[string]any{}
	}
	existingJSON, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		e.logger.Error("encoding existing facts", "user", userID, "error", err)
		return
	}

	prompt := fmt.Sprintf(extractPromptTemplate, existingJSON, userMessage, assistantReply)

	raw, err := e.gen.GenerateText(ctx, e.model, prompt)
	if err != nil {
		e.logger.Error("fact extraction failed", "user", userID, "error", err)
		return
	}

	facts := parseFacts(raw)
	if len(facts) == 0 {
		e.logger.Debug("no new facts", "user", userID)
		return
	}

	if err := e.merger.MergeFacts(ctx, userID, facts); err != nil {
		e.logger.Error("merging extracted facts", "user", userID, "error", err)
		return
	}
	e.logger.Debug("merged extracted facts", "user", userID, "count", len(facts))
}
