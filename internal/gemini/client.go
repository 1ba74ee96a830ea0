// Package gemini wraps the Google GenAI SDK behind a small client that the
// conversation loop and background generators share. It hides backend
// selection (Gemini API vs Vertex AI) and response plumbing; callers work
// with genai.Content values directly.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/koopa0/nimbus/internal/config"
)

// Request describes one model invocation. History carries the full
// conversation so far, already in model roles ("user"/"model").
type Request struct {
	Model   string
	System  string
	History []*genai.Content
	Tools   []*genai.Tool
}

// Client is a thin wrapper over the GenAI SDK client.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// New creates a Client for the configured backend. The gemini backend
// reads GEMINI_API_KEY from the environment; the vertex backend uses
// application default credentials with the configured project and location.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case config.BackendVertex:
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case config.BackendGemini:
		cc.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{client: client, logger: logger}, nil
}

// Generate performs one blocking model call and returns the candidate
// content. The returned content may mix text parts and function calls.
func (c *Client) Generate(ctx context.Context, req *Request) (*genai.Content, error) {
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, req.History, generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	content, err := candidateContent(resp)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// GenerateStream performs one streaming model call. onText is invoked for
// each text delta as it arrives; the full candidate content (text plus any
// function calls) is assembled and returned once the stream ends.
//
// If onText returns an error the stream is abandoned and that error is
// returned unchanged, so callers can distinguish client disconnects from
// model failures.
func (c *Client) GenerateStream(ctx context.Context, req *Request, onText func(string) error) (*genai.Content, error) {
	var text strings.Builder
	var calls []*genai.Part

	for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, req.History, generateConfig(req)) {
		if err != nil {
			return nil, fmt.Errorf("streaming content: %w", err)
		}
		content, err := candidateContent(resp)
		if err != nil {
			return nil, err
		}
		for _, part := range content.Parts {
			if part.Text != "" {
				if onText != nil {
					if err := onText(part.Text); err != nil {
						return nil, err
					}
				}
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				calls = append(calls, part)
			}
		}
	}

	var parts []*genai.Part
	if text.Len() > 0 {
		parts = append(parts, &genai.Part{Text: text.String()})
	}
	parts = append(parts, calls...)
	if len(parts) == 0 {
		return nil, errors.New("empty streaming response")
	}

	return &genai.Content{Role: string(genai.RoleModel), Parts: parts}, nil
}

// GenerateText is a convenience for single-shot prompts without history or
// tools, used by background generation (fact extraction, quizzes).
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	content, err := c.Generate(ctx, &Request{
		Model:   model,
		History: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, part := range content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func generateConfig(req *Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = req.Tools
	}
	return cfg
}

func candidateContent(resp *genai.GenerateContentResponse) (*genai.Content, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("model returned no candidates")
	}
	return resp.Candidates[0].Content, nil
}
