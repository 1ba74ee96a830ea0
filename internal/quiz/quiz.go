// Package quiz generates certification practice questions with the fast
// model.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
)

// topics for the Generative AI Leader exam, one picked at random per
// question.
var topics = []string{
	"Fundamentals of Generative AI: how gen AI models work, ML approaches (supervised, unsupervised, reinforcement learning), foundation models, LLMs, multimodal models, diffusion models, data types and data preparation",
	"Google Cloud GCP AI Offerings: Vertex AI, Model Garden, Gemini models, Gemma open models, Imagen, Veo, Agent Builder, Grounding, RAG on Vertex, fine-tuning, BigQuery ML",
	"Model Output Quality and Evaluation: prompt engineering techniques, temperature settings, hallucination and grounding, RAG for factual accuracy, evaluation metrics, responsible AI principles, bias and safety filters",
	"Business Strategy and ROI for Generative AI: build vs buy decisions, total cost of ownership, change management, identifying high-value AI use cases, measuring business impact, governance and data privacy",
	"Real-world Google Cloud Gen AI Use Cases: customer service agents, document processing and summarization, code generation with Gemini, enterprise search, content creation, contact center AI, retail and healthcare applications",
}

// Question is one multiple-choice exam question. Correct is the 0-based
// index into Options; Explanations aligns with Options.
type Question struct {
	Q            string   `json:"q"`
	Options      []string `json:"options"`
	Correct      int      `json:"correct"`
	Explanations []string `json:"explanations"`
}

// Generator is the text generation surface. Satisfied by *gemini.Client.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// Service generates quiz questions.
type Service struct {
	gen    Generator
	model  string
	logger *slog.Logger

	// pickTopic is swapped in tests for determinism.
	pickTopic func() string
}

// NewService creates a quiz Service using the given fast model.
func NewService(gen Generator, model string, logger *slog.Logger) (*Service, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:    gen,
		model:  model,
		logger: logger,
		pickTopic: func() string {
			return topics[rand.IntN(len(topics))]
		},
	}, nil
}

// Generate produces one question on a randomly chosen topic. Malformed
// model output is an error; callers map it to a server failure.
func (s *Service) Generate(ctx context.Context) (*Question, error) {
	topic := s.pickTopic()

	prompt := "You are an expert question writer for the Google Cloud Generative AI Leader certification exam. " +
		fmt.Sprintf("Generate one unique, challenging multiple-choice exam question about this topic: %s. ", topic) +
		"The question should be scenario-based (set in a business context), like the real exam. " +
		"Each wrong option must have a plausible but clearly incorrect reason. " +
		"Return ONLY valid JSON in exactly this format: " +
		`{"q":"question text","options":["option A text","option B text","option C text","option D text"],` +
		`"correct":2,"explanations":["explanation for A","explanation for B","explanation for C","explanation for D"]} ` +
		"where correct is the 0-based index of the correct option. " +
		`Each explanation must start with the letter label (e.g. "A is correct because..."). ` +
		"Make exactly 4 options. Do not include labels like A) or 1) inside the option text itself."

	raw, err := s.gen.GenerateText(ctx, s.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating question: %w", err)
	}

	var q Question
	if err := json.Unmarshal([]byte(stripFences(raw)), &q); err != nil {
		return nil, fmt.Errorf("decoding question: %w", err)
	}
	if err := q.validate(); err != nil {
		return nil, fmt.Errorf("invalid question from model: %w", err)
	}

	s.logger.Debug("generated quiz question", "topic_prefix", topic[:strings.IndexByte(topic, ':')])
	return &q, nil
}

func (q *Question) validate() error {
	switch {
	case q.Q == "":
		return errors.New("empty question text")
	case len(q.Options) != 4:
		return fmt.Errorf("got %d options, want 4", len(q.Options))
	case len(q.Explanations) != 4:
		return fmt.Errorf("got %d explanations, want 4", len(q.Explanations))
	case q.Correct < 0 || q.Correct > 3:
		return fmt.Errorf("correct index %d out of range", q.Correct)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
