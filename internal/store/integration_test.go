package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/koopa0/nimbus/internal/log"
	"github.com/koopa0/nimbus/internal/store"
	"github.com/koopa0/nimbus/internal/testutil"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	tdb := testutil.SetupTestDB(t)
	s, err := store.New(tdb.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func TestProfileLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Profile(ctx, "u1"); err != store.ErrNotFound {
		t.Fatalf("Profile(absent) = %v, want ErrNotFound", err)
	}

	if err := s.CreateProfileIfAbsent(ctx, "u1", "u1@example.com", "User One"); err != nil {
		t.Fatalf("CreateProfileIfAbsent: %v", err)
	}

	p, err := s.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Email != "u1@example.com" || p.Name != "User One" {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Facts) != 0 {
		t.Errorf("new profile facts = %v, want empty", p.Facts)
	}
}

func TestCreateProfileIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.CreateProfileIfAbsent(ctx, "u1", "a@example.com", "A"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MergeFacts(ctx, "u1", map[string]any{"region": "us-east1"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// A duplicate create must not reset accumulated facts.
	if err := s.CreateProfileIfAbsent(ctx, "u1", "b@example.com", "B"); err != nil {
		t.Fatalf("duplicate create: %v", err)
	}

	p, err := s.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Email != "a@example.com" {
		t.Errorf("email = %q, want original preserved", p.Email)
	}
	if p.Facts["region"] != "us-east1" {
		t.Errorf("facts = %v, want region preserved", p.Facts)
	}
}

func TestMergeFactsUnion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.CreateProfileIfAbsent(ctx, "u1", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.MergeFacts(ctx, "u1", map[string]any{"a": "1", "b": "old"}); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if err := s.MergeFacts(ctx, "u1", map[string]any{"b": "new", "c": "3"}); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	p, err := s.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	want := map[string]any{"a": "1", "b": "new", "c": "3"}
	for k, v := range want {
		if p.Facts[k] != v {
			t.Errorf("facts[%q] = %v, want %v", k, p.Facts[k], v)
		}
	}
	if len(p.Facts) != len(want) {
		t.Errorf("facts = %v, want %v", p.Facts, want)
	}
}

func TestMergeFactsMissingProfile(t *testing.T) {
	s := setupStore(t)

	err := s.MergeFacts(context.Background(), "ghost", map[string]any{"a": "1"})
	if err == nil {
		t.Fatal("MergeFacts on missing profile: want error")
	}
}

func TestMergeFactsEmptyNoop(t *testing.T) {
	s := setupStore(t)

	// No profile exists; an empty patch must still succeed as a no-op.
	if err := s.MergeFacts(context.Background(), "ghost", nil); err != nil {
		t.Fatalf("MergeFacts(empty) = %v, want nil", err)
	}
}

func TestAppendMessageCreatesThenAppends(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := store.Message{Role: store.RoleUser, Content: "What services are running?", Timestamp: time.Now().UnixMilli()}
	if err := s.AppendMessage(ctx, "u1", "s1", first); err != nil {
		t.Fatalf("first append: %v", err)
	}

	second := store.Message{Role: store.RoleAssistant, Content: "Two Cloud Run services.", Timestamp: time.Now().UnixMilli()}
	if err := s.AppendMessage(ctx, "u1", "s1", second); err != nil {
		t.Fatalf("second append: %v", err)
	}

	cs, err := s.Session(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if cs.Title != "What services are running?" {
		t.Errorf("title = %q", cs.Title)
	}
	if len(cs.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(cs.Messages))
	}
	if cs.Messages[0].Content != first.Content || cs.Messages[1].Content != second.Content {
		t.Errorf("message order not preserved: %+v", cs.Messages)
	}
}

func TestAppendMessageTitleFixedAtCreation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "u1", "s1", store.Message{Role: store.RoleUser, Content: "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(ctx, "u1", "s1", store.Message{Role: store.RoleUser, Content: "second"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	cs, err := s.Session(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if cs.Title != "first" {
		t.Errorf("title = %q, want title from first message", cs.Title)
	}
}

func TestSessionScopedToUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "alice", "s1", store.Message{Role: store.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.Session(ctx, "bob", "s1"); err != store.ErrNotFound {
		t.Errorf("Session(other user) = %v, want ErrNotFound", err)
	}
}

func TestListSessionSummaries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i, id := range []string{"s-old", "s-mid", "s-new"} {
		if err := s.AppendMessage(ctx, "u1", id, store.Message{Role: store.RoleUser, Content: "msg " + id}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
		// created_at has millisecond resolution; separate the rows.
		time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
	}

	sums, err := s.ListSessionSummaries(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListSessionSummaries: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("summaries = %d, want 3", len(sums))
	}
	if sums[0].SessionID != "s-new" || sums[2].SessionID != "s-old" {
		t.Errorf("order = %s,%s,%s, want newest first", sums[0].SessionID, sums[1].SessionID, sums[2].SessionID)
	}
	if sums[0].Title != "msg s-new" {
		t.Errorf("title = %q", sums[0].Title)
	}
}
