package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/relaychat/relay/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return st
}

func mustCreateUser(t *testing.T, st *store.Store, username, email string) store.User {
	t.Helper()
	user, err := st.CreateUser(context.Background(), username, email, "hash")
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

func TestCreateUserAssignsID(t *testing.T) {
	st := openTestStore(t)

	user := mustCreateUser(t, st, "alice", "alice@example.com")
	if user.ID == 0 {
		t.Error("Expected a non-zero ID")
	}

	found, err := st.UserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Failed to look up user: %v", err)
	}
	if found.ID != user.ID || found.Email != "alice@example.com" {
		t.Errorf("Lookup returned unexpected user: %+v", found)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	st := openTestStore(t)

	mustCreateUser(t, st, "alice", "alice@example.com")
	_, err := st.CreateUser(context.Background(), "alice", "other@example.com", "hash")
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestUserByUsernameNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.UserByUsername(context.Background(), "nobody")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGlobalMessagesNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, st, "alice", "alice@example.com")
	for _, content := range []string{"first", "second", "third"} {
		if _, err := st.SaveGlobalMessage(ctx, alice.ID, alice.Username, content); err != nil {
			t.Fatalf("Failed to save message %q: %v", content, err)
		}
	}

	msgs, err := st.LatestGlobalMessages(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to fetch messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "third" || msgs[1].Content != "second" {
		t.Errorf("Expected newest-first order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Error("Expected a server-assigned timestamp")
	}
}

func TestPrivateHistoryChronologicalWithSenderNames(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, st, "alice", "alice@example.com")
	bob := mustCreateUser(t, st, "bob", "bob@example.com")
	carol := mustCreateUser(t, st, "carol", "carol@example.com")

	if _, err := st.SavePrivateMessage(ctx, bob.ID, alice.ID, "hi alice"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	if _, err := st.SavePrivateMessage(ctx, alice.ID, bob.ID, "hi bob"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	// Unrelated conversation must not leak in.
	if _, err := st.SavePrivateMessage(ctx, carol.ID, alice.ID, "psst"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	rows, err := st.PrivateHistory(ctx, alice.ID, bob.ID, 50)
	if err != nil {
		t.Fatalf("Failed to fetch history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Content != "hi alice" || rows[0].SenderName != "bob" {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[1].Content != "hi bob" || rows[1].SenderName != "alice" {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}
}

func TestUnreadAccounting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, st, "alice", "alice@example.com")
	bob := mustCreateUser(t, st, "bob", "bob@example.com")
	carol := mustCreateUser(t, st, "carol", "carol@example.com")

	for _, content := range []string{"one", "two"} {
		if _, err := st.SavePrivateMessage(ctx, bob.ID, alice.ID, content); err != nil {
			t.Fatalf("Failed to save message: %v", err)
		}
	}
	if _, err := st.SavePrivateMessage(ctx, carol.ID, alice.ID, "three"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	// Alice's own outbound message never counts against her.
	if _, err := st.SavePrivateMessage(ctx, alice.ID, bob.ID, "reply"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	counts, err := st.UnreadCountsBySender(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Failed to fetch unread counts: %v", err)
	}
	if counts[bob.ID] != 2 || counts[carol.ID] != 1 {
		t.Errorf("Unexpected unread counts: %v", counts)
	}

	total, err := st.TotalUnreadCount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Failed to fetch total unread: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected total unread 3, got %d", total)
	}
}

func TestMarkReadIsScopedAndIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, st, "alice", "alice@example.com")
	bob := mustCreateUser(t, st, "bob", "bob@example.com")
	carol := mustCreateUser(t, st, "carol", "carol@example.com")

	for _, content := range []string{"one", "two"} {
		if _, err := st.SavePrivateMessage(ctx, bob.ID, alice.ID, content); err != nil {
			t.Fatalf("Failed to save message: %v", err)
		}
	}
	if _, err := st.SavePrivateMessage(ctx, carol.ID, alice.ID, "three"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	affected, err := st.MarkRead(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if affected != 2 {
		t.Errorf("Expected 2 rows affected, got %d", affected)
	}

	// Second pass touches nothing.
	affected, err = st.MarkRead(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if affected != 0 {
		t.Errorf("Expected 0 rows affected on repeat, got %d", affected)
	}

	// Carol's message is untouched.
	total, err := st.TotalUnreadCount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Failed to fetch total unread: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 unread remaining, got %d", total)
	}
}
