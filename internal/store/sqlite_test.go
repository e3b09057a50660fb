package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/storefront-labs/livechat/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{IP: "1.2.3.4", Browser: "Firefox"})
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", conv.Status)
	}
	if conv.Meta.IP != "1.2.3.4" {
		t.Fatalf("meta not persisted: %+v", conv.Meta)
	}

	found, err := s.FindOpenByVisitor(ctx, "v-1")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != conv.ID {
		t.Fatal("expected to find open conversation")
	}

	if err := s.CloseConversation(ctx, conv.ID, "Alice"); err != nil {
		t.Fatal(err)
	}

	found, err = s.FindOpenByVisitor(ctx, "v-1")
	if err != nil {
		t.Fatal(err)
	}
	if found != nil {
		t.Fatal("closed conversation should not be found as open")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != models.StatusClosed || got.ClosedBy != "Alice" {
		t.Fatalf("expected closed by Alice, got %+v", got)
	}
	if got.ClosedAt == nil {
		t.Fatal("closed_at should be set")
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetConversation(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for missing conversation")
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}

	bodies := []string{"first", "second", "third"}
	for _, b := range bodies {
		msg := &models.Message{ConversationID: conv.ID.String(), Role: models.RoleVisitor, Body: b}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID == "" {
			t.Fatal("append should assign an ID")
		}
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	for i, b := range bodies {
		if got.Messages[i].Body != b {
			t.Fatalf("position %d: expected %q, got %q", i, b, got.Messages[i].Body)
		}
	}
	if !got.LastMessageAt.After(conv.LastMessageAt) && !got.LastMessageAt.Equal(conv.LastMessageAt) {
		t.Fatal("last_message_at should move forward with appends")
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{})

	s.AppendMessage(ctx, &models.Message{ConversationID: conv.ID.String(), Role: models.RoleVisitor, Body: "hi"})
	s.AppendMessage(ctx, &models.Message{ConversationID: conv.ID.String(), Role: models.RoleVisitor, Body: "anyone?"})
	s.AppendMessage(ctx, &models.Message{ConversationID: conv.ID.String(), Role: models.RoleAdmin, Body: "hello", Read: true})
	s.AppendMessage(ctx, &models.Message{ConversationID: conv.ID.String(), Role: models.RoleBot, Body: "welcome", Read: true})

	unread, err := s.UnreadCount(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if unread != 2 {
		t.Fatalf("expected 2 unread visitor messages, got %d", unread)
	}

	n, err := s.MarkVisitorMessagesRead(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows updated, got %d", n)
	}

	// Idempotent: second call touches nothing.
	n, err = s.MarkVisitorMessagesRead(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows on second call, got %d", n)
	}

	unread, _ = s.UnreadCount(ctx, conv.ID)
	if unread != 0 {
		t.Fatalf("expected 0 unread after mark, got %d", unread)
	}
}

func TestTotalUnreadExcludesClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open, _ := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{})
	closed, _ := s.CreateConversation(ctx, "v-2", "", "", models.ClientMeta{})

	s.AppendMessage(ctx, &models.Message{ConversationID: open.ID.String(), Role: models.RoleVisitor, Body: "a"})
	s.AppendMessage(ctx, &models.Message{ConversationID: closed.ID.String(), Role: models.RoleVisitor, Body: "b"})
	s.CloseConversation(ctx, closed.ID, "Alice")

	total, err := s.TotalUnread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected 1 total unread, got %d", total)
	}
}

func TestUpdateVisitorIdentityFillOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{})

	if err := s.UpdateVisitorIdentity(ctx, conv.ID, "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateVisitorIdentity(ctx, conv.ID, "Mallory", "alice@example.com"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got.VisitorName != "Alice" {
		t.Fatalf("name should not be overwritten, got %q", got.VisitorName)
	}
	if got.VisitorEmail != "alice@example.com" {
		t.Fatalf("email should be filled, got %q", got.VisitorEmail)
	}
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateConversation(ctx, "v-1", "Alice", "alice@example.com", models.ClientMeta{})
	b, _ := s.CreateConversation(ctx, "v-2", "Bob", "bob@example.com", models.ClientMeta{})
	s.AppendMessage(ctx, &models.Message{ConversationID: a.ID.String(), Role: models.RoleVisitor, Body: "hi"})
	s.CloseConversation(ctx, b.ID, "Alice")

	all, total, err := s.ListConversations(ctx, ListOptions{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("expected 2 conversations, got total=%d len=%d", total, len(all))
	}

	active, _, err := s.ListConversations(ctx, ListOptions{Status: models.StatusActive, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("status filter failed: %+v", active)
	}
	if active[0].UnreadCount != 1 {
		t.Fatalf("expected derived unread 1, got %d", active[0].UnreadCount)
	}
	if active[0].LastMessage == nil || active[0].LastMessage.Body != "hi" {
		t.Fatal("expected last message attached")
	}

	byName, _, err := s.ListConversations(ctx, ListOptions{Query: "bob", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || byName[0].ID != b.ID {
		t.Fatalf("query filter failed: %+v", byName)
	}
}

func TestAgentsSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateAgent(ctx, "Alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsActive {
		t.Fatal("first agent should be active automatically")
	}

	second, _ := s.CreateAgent(ctx, "Bob", "avatar.png")
	if second.IsActive {
		t.Fatal("second agent should not be active")
	}

	if err := s.SetActiveAgent(ctx, second.ID); err != nil {
		t.Fatal(err)
	}

	agents, _ := s.ListAgents(ctx)
	activeCount := 0
	for _, a := range agents {
		if a.IsActive {
			activeCount++
			if a.ID != second.ID {
				t.Fatalf("wrong agent active: %s", a.Name)
			}
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly 1 active agent, got %d", activeCount)
	}

	if err := s.SetActiveAgent(ctx, uuid.New()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing agent, got %v", err)
	}
}

func TestUpsertSubscriberIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSubscriber(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSubscriber(ctx, "alice@example.com"); err != nil {
		t.Fatalf("duplicate subscriber should be a no-op, got %v", err)
	}
}

func TestTemplatesSeededAndUpdatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl, err := s.GetTemplates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Welcome == "" || tpl.AskName == "" || tpl.CouponOffer == "" {
		t.Fatalf("defaults should be seeded: %+v", tpl)
	}

	tpl.Welcome = "Hey there!"
	if err := s.UpdateTemplates(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetTemplates(ctx)
	if got.Welcome != "Hey there!" {
		t.Fatalf("expected updated welcome, got %q", got.Welcome)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "v-1", "", "", models.ClientMeta{})
	s.AppendMessage(ctx, &models.Message{ConversationID: conv.ID.String(), Role: models.RoleVisitor, Body: "hi"})

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got != nil {
		t.Fatal("conversation should be gone")
	}
	unread, _ := s.UnreadCount(ctx, conv.ID)
	if unread != 0 {
		t.Fatal("messages should cascade on delete")
	}
}
