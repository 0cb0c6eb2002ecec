package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), "maria", "maria@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func createTestPerson(t *testing.T, s *Store, userID int64) int64 {
	t.Helper()
	id, err := s.CreatePerson(context.Background(), Person{
		UserID:    userID,
		Name:      "Rosa",
		Relation:  "grandmother",
		BirthDate: "1945-03-01",
	})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	return id
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createTestUser(t, s)

	t.Run("lookup by username", func(t *testing.T) {
		u, err := s.GetUserByLogin(ctx, "maria")
		if err != nil {
			t.Fatalf("GetUserByLogin: %v", err)
		}
		if u.ID != id || u.Email != "maria@example.com" {
			t.Errorf("got %+v", u)
		}
	})

	t.Run("lookup by email", func(t *testing.T) {
		u, err := s.GetUserByLogin(ctx, "maria@example.com")
		if err != nil {
			t.Fatalf("GetUserByLogin: %v", err)
		}
		if u.Username != "maria" {
			t.Errorf("got %+v", u)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.GetUserByLogin(ctx, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		_, err := s.CreateUser(ctx, "maria", "other@example.com", "hash")
		if err == nil {
			t.Error("expected unique constraint error")
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		personID := createTestPerson(t, s, id)
		if _, err := s.AppendTurn(ctx, ChatMessage{PersonID: personID, UserID: id, Role: "user", Content: "hi"}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}

		if err := s.DeleteUser(ctx, id); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if _, err := s.GetUser(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("user still present after delete: %v", err)
		}
		if _, err := s.GetPerson(ctx, id, personID); !errors.Is(err, ErrNotFound) {
			t.Errorf("person survived user delete: %v", err)
		}
		history, err := s.History(ctx, personID, 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("chat history survived user delete: %d rows", len(history))
		}
	})
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s)

	now := time.Now().UTC()
	sess := Session{
		ID:        "sess-1",
		UserID:    userID,
		TokenHash: "abc123",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSessionByTokenHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetSessionByTokenHash: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("session user = %d, want %d", got.UserID, userID)
	}

	t.Run("expired sessions pruned", func(t *testing.T) {
		old := Session{
			ID:        "sess-2",
			UserID:    userID,
			TokenHash: "old",
			ExpiresAt: now.Add(-time.Hour),
			CreatedAt: now.Add(-2 * time.Hour),
		}
		if err := s.CreateSession(ctx, old); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.DeleteExpiredSessions(ctx, now); err != nil {
			t.Fatalf("DeleteExpiredSessions: %v", err)
		}
		if _, err := s.GetSessionByTokenHash(ctx, "old"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired session survived pruning: %v", err)
		}
		if _, err := s.GetSessionByTokenHash(ctx, "abc123"); err != nil {
			t.Errorf("live session was pruned: %v", err)
		}
	})
}

func TestPersonScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s)
	other, err := s.CreateUser(ctx, "jon", "jon@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	personID := createTestPerson(t, s, owner)

	if _, err := s.GetPerson(ctx, owner, personID); err != nil {
		t.Errorf("owner cannot read own person: %v", err)
	}
	if _, err := s.GetPerson(ctx, other, personID); !errors.Is(err, ErrNotFound) {
		t.Errorf("another user's person was readable: %v", err)
	}

	t.Run("update dates", func(t *testing.T) {
		if err := s.UpdatePersonDates(ctx, owner, personID, "1945-03-01", "2020-01-15"); err != nil {
			t.Fatalf("UpdatePersonDates: %v", err)
		}
		p, err := s.GetPerson(ctx, owner, personID)
		if err != nil {
			t.Fatalf("GetPerson: %v", err)
		}
		if p.DeathDate != "2020-01-15" {
			t.Errorf("death date = %q, want 2020-01-15", p.DeathDate)
		}

		if err := s.UpdatePersonDates(ctx, other, personID, "1900-01-01", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("another user could update dates: %v", err)
		}
	})
}

func TestConversationOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	personID := createTestPerson(t, s, userID)

	turns := []struct{ role, content string }{
		{"user", "one"},
		{"assistant", "two"},
		{"user", "three"},
		{"assistant", "four"},
		{"user", "five"},
	}
	for _, turn := range turns {
		if _, err := s.AppendTurn(ctx, ChatMessage{
			PersonID: personID, UserID: userID, Role: turn.role, Content: turn.content,
		}); err != nil {
			t.Fatalf("AppendTurn(%q): %v", turn.content, err)
		}
	}

	t.Run("history ascending", func(t *testing.T) {
		got, err := s.History(ctx, personID, 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(got) != len(turns) {
			t.Fatalf("History returned %d turns, want %d", len(got), len(turns))
		}
		for i, m := range got {
			if m.Content != turns[i].content {
				t.Errorf("turn %d = %q, want %q", i, m.Content, turns[i].content)
			}
		}
	})

	t.Run("recent turns keep tail in order", func(t *testing.T) {
		got, err := s.RecentTurns(ctx, personID, 3)
		if err != nil {
			t.Fatalf("RecentTurns: %v", err)
		}
		want := []string{"three", "four", "five"}
		if len(got) != len(want) {
			t.Fatalf("RecentTurns returned %d turns, want %d", len(got), len(want))
		}
		for i, m := range got {
			if m.Content != want[i] {
				t.Errorf("turn %d = %q, want %q", i, m.Content, want[i])
			}
		}
	})

	t.Run("history limit", func(t *testing.T) {
		got, err := s.History(ctx, personID, 2)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(got) != 2 || got[0].Content != "one" {
			t.Errorf("History(limit=2) = %v", got)
		}
	})
}

func TestMemoriesAndChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	personID := createTestPerson(t, s, userID)

	memID, err := s.CreateMemory(ctx, Memory{
		PersonID: personID,
		Title:    "The garden",
		Body:     "She grew roses every spring.",
	})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	if err := s.ReplaceChunks(ctx, memID, []string{"chunk a", "chunk b"}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	chunks, err := s.ListChunks(ctx, memID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Text != "chunk a" || chunks[1].Index != 1 {
		t.Errorf("ListChunks = %+v", chunks)
	}

	t.Run("replace swaps cleanly", func(t *testing.T) {
		if err := s.ReplaceChunks(ctx, memID, []string{"only chunk"}); err != nil {
			t.Fatalf("ReplaceChunks: %v", err)
		}
		chunks, err := s.ListChunks(ctx, memID)
		if err != nil {
			t.Fatalf("ListChunks: %v", err)
		}
		if len(chunks) != 1 || chunks[0].Text != "only chunk" {
			t.Errorf("ListChunks after replace = %+v", chunks)
		}
	})

	t.Run("list all for reindex", func(t *testing.T) {
		all, err := s.ListAllMemories(ctx)
		if err != nil {
			t.Fatalf("ListAllMemories: %v", err)
		}
		if len(all) != 1 || all[0].ID != memID {
			t.Errorf("ListAllMemories = %+v", all)
		}
	})
}
