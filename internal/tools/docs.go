package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"google.golang.org/genai"
)

const (
	docsFetchTimeout = 30 * time.Second

	// docsMaxRunes bounds the extracted text handed back to the model.
	docsMaxRunes = 8000
)

// allowedDocHosts restricts fetchDocumentation to official documentation.
var allowedDocHosts = map[string]bool{
	"cloud.google.com":      true,
	"docs.cloud.google.com": true,
}

// DocsToolset fetches documentation pages and extracts their readable text.
type DocsToolset struct {
	logger *slog.Logger

	// fetch is swapped in tests to avoid network access.
	fetch func(pageURL string, timeout time.Duration) (readability.Article, error)
}

// NewDocsToolset creates the documentation toolset.
func NewDocsToolset(logger *slog.Logger) *DocsToolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocsToolset{logger: logger, fetch: readability.FromURL}
}

// Tools returns the toolset's tools.
func (t *DocsToolset) Tools() []Tool {
	return []Tool{
		{
			Declaration: &genai.FunctionDeclaration{
				Name:        "fetchDocumentation",
				Description: "Fetch a Google Cloud documentation page from cloud.google.com and return its readable text content.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"url": {
							Type:        genai.TypeString,
							Description: "Full https URL of the cloud.google.com documentation page",
						},
					},
					Required: []string{"url"},
				},
			},
			Handler: t.fetchDocumentation,
		},
	}
}

func (t *DocsToolset) fetchDocumentation(_ context.Context, args map[string]any) string {
	pageURL, _ := args["url"].(string)
	if pageURL == "" {
		return "Error fetching documentation: url argument is required"
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Sprintf("Error fetching documentation: invalid url: %v", err)
	}
	if parsed.Scheme != "https" || !allowedDocHosts[parsed.Hostname()] {
		return "Error fetching documentation: only https cloud.google.com pages are allowed"
	}

	article, err := t.fetch(pageURL, docsFetchTimeout)
	if err != nil {
		t.logger.Warn("documentation fetch failed", "url", pageURL, "error", err)
		return fmt.Sprintf("Error fetching documentation: %v", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "No readable content found on that page."
	}
	if runes := []rune(text); len(runes) > docsMaxRunes {
		text = string(runes[:docsMaxRunes]) + "\n\n[content truncated]"
	}

	if article.Title != "" {
		return article.Title + "\n\n" + text
	}
	return text
}
