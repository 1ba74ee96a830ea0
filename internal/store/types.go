package store

import (
	"errors"
	"strings"
)

// Message roles as persisted in session transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// TitleMaxLength is the maximum derived session title length in runes.
const TitleMaxLength = 50

// MaxSessionSummaries bounds the session listing.
const MaxSessionSummaries = 30

// ErrNotFound indicates the requested profile or session does not exist.
var ErrNotFound = errors.New("not found")

// Message is a single transcript entry. Immutable once created; ordered
// by append order within a session.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// ChatSession is one append-only conversation transcript.
type ChatSession struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// SessionSummary is the projection returned by ListSessionSummaries.
// Message bodies are never loaded for listings.
type SessionSummary struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
}

// UserProfile holds durable per-user state. Facts is mutated only through
// MergeFacts (last-writer-wins per key).
type UserProfile struct {
	UserID      string         `json:"userId"`
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	CreatedAt   int64          `json:"createdAt"`
	LastUpdated int64          `json:"lastUpdated"`
	Facts       map[string]any `json:"facts"`
}

// DeriveTitle builds a session title from the first message's content:
// the first TitleMaxLength runes, with a truncation marker when longer.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxLength {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(string(runes[:TitleMaxLength])) + "…"
}
