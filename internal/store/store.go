// Package store persists user profiles and chat sessions in PostgreSQL.
//
// Every operation is a single atomic SQL statement; no cross-entity
// transactions are needed and no lock is held across calls. Profiles own
// the per-user fact map, sessions own the append-only transcript.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const profileCols = `user_id, email, name, facts, created_at, last_updated`

// appendMessageSQL creates the session with a derived title on first call
// and appends to the message array on subsequent calls. The insert and the
// append are one statement, so concurrent appends cannot lose messages.
const appendMessageSQL = `INSERT INTO chat_sessions (user_id, session_id, title, created_at, messages)
	VALUES ($1, $2, $3, $4, jsonb_build_array($5::jsonb))
	ON CONFLICT (user_id, session_id)
	DO UPDATE SET messages = chat_sessions.messages || EXCLUDED.messages`

// mergeFactsSQL computes the union server-side: new keys overwrite old,
// untouched keys survive. The existing map is never replaced wholesale.
const mergeFactsSQL = `UPDATE user_profiles
	SET facts = facts || $2::jsonb, last_updated = $3
	WHERE user_id = $1`

// createProfileSQL is idempotent: a concurrent duplicate create leaves the
// winner's row (and any facts already merged into it) untouched.
const createProfileSQL = `INSERT INTO user_profiles (user_id, email, name, facts, created_at, last_updated)
	VALUES ($1, $2, $3, '{}', $4, $4)
	ON CONFLICT (user_id) DO NOTHING`

// Store manages profile and session persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: pool, logger: logger}, nil
}

// Profile retrieves a user profile. Returns ErrNotFound if absent.
func (s *Store) Profile(ctx context.Context, userID string) (*UserProfile, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+profileCols+` FROM user_profiles WHERE user_id = $1`, userID)

	var p UserProfile
	var factsRaw []byte
	err := row.Scan(&p.UserID, &p.Email, &p.Name, &factsRaw, &p.CreatedAt, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", userID, err)
	}

	if err := json.Unmarshal(factsRaw, &p.Facts); err != nil {
		return nil, fmt.Errorf("decoding facts for %s: %w", userID, err)
	}
	return &p, nil
}

// CreateProfileIfAbsent creates a profile with empty facts. Idempotent:
// if the profile already exists, nothing changes and populated facts are
// never reset by a duplicate create.
func (s *Store) CreateProfileIfAbsent(ctx context.Context, userID, email, name string) error {
	now := time.Now().UnixMilli()
	tag, err := s.db.Exec(ctx, createProfileSQL, userID, email, name, now)
	if err != nil {
		return fmt.Errorf("creating profile %s: %w", userID, err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Debug("created profile", "user", userID)
	}
	return nil
}

// MergeFacts merges newFacts into the profile's fact map. New keys are
// added, existing keys overwritten (last-writer-wins); other keys are
// retained. Returns ErrNotFound if the profile does not exist.
func (s *Store) MergeFacts(ctx context.Context, userID string, newFacts map[string]any) error {
	if len(newFacts) == 0 {
		return nil
	}

	patch, err := json.Marshal(newFacts)
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}

	tag, err := s.db.Exec(ctx, mergeFactsSQL, userID, patch, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("merging facts for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merging facts for %s: %w", userID, ErrNotFound)
	}

	s.logger.Debug("merged facts", "user", userID, "count", len(newFacts))
	return nil
}

// Session retrieves a full chat session. Returns ErrNotFound if absent.
func (s *Store) Session(ctx context.Context, userID, sessionID string) (*ChatSession, error) {
	row := s.db.QueryRow(ctx,
		`SELECT session_id, title, created_at, messages
		 FROM chat_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID)

	var cs ChatSession
	var messagesRaw []byte
	err := row.Scan(&cs.SessionID, &cs.Title, &cs.CreatedAt, &messagesRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s/%s: %w", userID, sessionID, err)
	}

	if err := json.Unmarshal(messagesRaw, &cs.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages for %s/%s: %w", userID, sessionID, err)
	}
	return &cs, nil
}

// AppendMessage appends msg to the session transcript, creating the
// session with a derived title on the first call for a sessionID.
func (s *Store) AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	_, err = s.db.Exec(ctx, appendMessageSQL,
		userID, sessionID, DeriveTitle(msg.Content), time.Now().UnixMilli(), encoded)
	if err != nil {
		return fmt.Errorf("appending message to %s/%s: %w", userID, sessionID, err)
	}

	s.logger.Debug("appended message", "user", userID, "session", sessionID, "role", msg.Role)
	return nil
}

// ListSessionSummaries returns session metadata for a user, newest first.
// limit is clamped to MaxSessionSummaries; message bodies are not loaded.
func (s *Store) ListSessionSummaries(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 || limit > MaxSessionSummaries {
		limit = MaxSessionSummaries
	}

	rows, err := s.db.Query(ctx,
		`SELECT session_id, title, created_at
		 FROM chat_sessions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	summaries := make([]SessionSummary, 0, limit)
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Title, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
	}

	return summaries, nil
}
