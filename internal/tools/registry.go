// Package tools provides the function-calling tools exposed to the model:
// read-only Google Cloud inspection plus documentation fetching.
//
// Tool handlers never return Go errors. Failures are folded into the
// returned text ("Error listing X: ...") so the model can read them and
// recover in conversation instead of aborting the round.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Handler executes one tool call. args carries the model-provided
// arguments; the returned string is handed back to the model verbatim.
type Handler func(ctx context.Context, args map[string]any) string

// Tool pairs a function declaration with its handler.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Handler     Handler
}

// Registry holds the registered tools in registration order.
//
// Registry is not safe for concurrent mutation; register everything at
// startup, then share it freely.
type Registry struct {
	order  []string
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds tools to the registry. Duplicate names are rejected.
func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		if t.Declaration == nil || t.Declaration.Name == "" {
			return fmt.Errorf("tool declaration missing name")
		}
		name := t.Declaration.Name
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool %q already registered", name)
		}
		if t.Handler == nil {
			return fmt.Errorf("tool %q has no handler", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Declarations returns all function declarations in registration order.
// The order is stable across calls so the model sees a consistent tool list.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration)
	}
	return decls
}

// GenAITools packages the declarations as a single genai tool group.
func (r *Registry) GenAITools() []*genai.Tool {
	decls := r.Declarations()
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Execute runs the named tool and returns its text output. Unknown tools
// and handler panics produce an error message as tool output rather than
// failing the conversation round.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			out = fmt.Sprintf("Error executing %s: internal tool failure", name)
		}
	}()

	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf("Unknown tool: %s", name)
	}

	r.logger.Debug("executing tool", "tool", name)
	return tool.Handler(ctx, args)
}
