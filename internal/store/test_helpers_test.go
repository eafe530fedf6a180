package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lasso/internal/chat"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createSeekingUser inserts a fully onboarded user in the seeking state.
func createSeekingUser(t *testing.T, s *Store, id chat.UserID, age int, interests ...string) chat.User {
	t.Helper()
	ctx := context.Background()

	u := chat.NewUser(id, testNow)
	created, _, err := s.Create(ctx, u)
	if err != nil {
		t.Fatalf("Create(%d) failed: %v", id, err)
	}

	created.Profile = chat.Profile{Name: "User " + id.String(), Age: age, Interests: interests}
	created.Dialogue = chat.DialogueReady
	created.Status = chat.StatusSeeking
	updated, err := s.CASUpdate(ctx, created, created.Version, "")
	if err != nil {
		t.Fatalf("CASUpdate(%d) failed: %v", id, err)
	}
	return updated
}
