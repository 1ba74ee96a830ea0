package api

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/koopa0/nimbus/internal/chat"
	"github.com/koopa0/nimbus/internal/quiz"
	"github.com/koopa0/nimbus/internal/store"
)

// fakeStore is an in-memory Storage implementation.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*store.UserProfile
	sessions map[string]*store.ChatSession // keyed user/session
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*store.UserProfile),
		sessions: make(map[string]*store.ChatSession),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

func (f *fakeStore) Profile(_ context.Context, userID string) (*store.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) CreateProfileIfAbsent(_ context.Context, userID, email, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[userID]; ok {
		return nil
	}
	f.profiles[userID] = &store.UserProfile{UserID: userID, Email: email, Name: name, Facts: map[string]any{}}
	return nil
}

func (f *fakeStore) Session(_ context.Context, userID, sessionID string) (*store.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, userID, sessionID string, msg store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	key := sessionKey(userID, sessionID)
	s, ok := f.sessions[key]
	if !ok {
		s = &store.ChatSession{SessionID: sessionID, Title: store.DeriveTitle(msg.Content)}
		f.sessions[key] = s
	}
	s.Messages = append(s.Messages, msg)
	return nil
}

func (f *fakeStore) ListSessionSummaries(_ context.Context, userID string, _ int) ([]store.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sums []store.SessionSummary
	for key, s := range f.sessions {
		if strings.HasPrefix(key, userID+"/") {
			sums = append(sums, store.SessionSummary{SessionID: s.SessionID, Title: s.Title, CreatedAt: s.CreatedAt})
		}
	}
	return sums, nil
}

func (f *fakeStore) messages(userID, sessionID string) []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil
	}
	return append([]store.Message(nil), s.Messages...)
}

// fakeLoop scripts the conversation runner. When chunks is non-empty and
// onChunk is given, the chunks are forwarded before returning.
type fakeLoop struct {
	reply   string
	chunks  []string
	err     error
	history []store.Message
	facts   map[string]any
}

func (f *fakeLoop) Run(_ context.Context, history []store.Message, _ string, facts map[string]any, onChunk func(string) error) (*chat.Result, error) {
	f.history = append([]store.Message(nil), history...)
	f.facts = facts
	if onChunk != nil {
		for _, c := range f.chunks {
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Result{Reply: f.reply, Rounds: 1}, nil
}

// fakeMemory records Launch calls.
type fakeMemory struct {
	mu     sync.Mutex
	calls  int
	userID string
	user   string
	reply  string
}

func (f *fakeMemory) Launch(userID, userMessage, assistantReply string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.userID = userID
	f.user = userMessage
	f.reply = assistantReply
}

// fakeQuiz returns a fixed question or error.
type fakeQuiz struct {
	q   *quiz.Question
	err error
}

func (f *fakeQuiz) Generate(context.Context) (*quiz.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.q, nil
}

var errBoom = errors.New("boom")
