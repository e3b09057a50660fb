package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/models"
	"github.com/storefront-labs/livechat/internal/store"
)

func newTestService(t *testing.T, botEnabled bool) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

	log := zerolog.Nop()
	presence := NewPresence()
	hub := NewHub(presence, log)
	bot := NewBot(st, "SAVE20", 0, botEnabled, log)
	return NewService(st, hub, presence, bot, log), st
}

// drain collects everything currently queued on a client without blocking.
func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []Event, typ string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestOpenOrResumeReusesOpenConversation(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	first, err := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Phase != models.PhaseNeedName {
		t.Fatalf("anonymous conversation should start in need_name, got %s", first.Phase)
	}

	second, err := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Fatal("reconnect should resume the open conversation, not create a new one")
	}
}

func TestOpenOrResumeAfterCloseCreatesNew(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	first, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err := svc.Close(ctx, first.Conversation.ID, "Alice"); err != nil {
		t.Fatal(err)
	}

	second, err := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Conversation.ID == first.Conversation.ID {
		t.Fatal("a closed conversation must not be resumed")
	}
}

func TestWelcomeMessageExactlyOnce(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	snap, err := svc.OpenOrResume(ctx, "v-1", "Alice", "alice@example.com", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Phase != models.PhaseActive {
		t.Fatalf("identity supplied up front should yield active phase, got %s", snap.Phase)
	}
	if len(snap.Conversation.Messages) != 1 || snap.Conversation.Messages[0].Role != models.RoleBot {
		t.Fatalf("expected exactly one welcome message, got %+v", snap.Conversation.Messages)
	}

	again, err := svc.OpenOrResume(ctx, "v-1", "Alice", "alice@example.com", models.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Conversation.Messages) != 1 {
		t.Fatalf("welcome must not repeat on resume, got %d messages", len(again.Conversation.Messages))
	}
}

func TestOnboardingFlow(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()

	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID

	// Name step.
	if err := svc.HandleVisitorMessage(ctx, "v-1", "Alice"); err != nil {
		t.Fatal(err)
	}
	conv, _ := st.GetConversation(ctx, convID)
	if conv.VisitorName != "Alice" {
		t.Fatalf("name should be captured, got %q", conv.VisitorName)
	}
	if conv.Phase() != models.PhaseNeedEmail {
		t.Fatalf("expected need_email after name, got %s", conv.Phase())
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != models.RoleBot || !strings.Contains(last.Body, "email") {
		t.Fatalf("expected email prompt, got %+v", last)
	}

	// Invalid email: retry without advancing.
	if err := svc.HandleVisitorMessage(ctx, "v-1", "not-an-email"); err != nil {
		t.Fatal(err)
	}
	conv, _ = st.GetConversation(ctx, convID)
	if conv.Phase() != models.PhaseNeedEmail {
		t.Fatalf("invalid email must not advance phase, got %s", conv.Phase())
	}
	if conv.VisitorEmail != "" {
		t.Fatalf("invalid email must not be stored, got %q", conv.VisitorEmail)
	}

	// Valid email: coupon with the configured code interpolated.
	if err := svc.HandleVisitorMessage(ctx, "v-1", "Alice@Example.COM"); err != nil {
		t.Fatal(err)
	}
	conv, _ = st.GetConversation(ctx, convID)
	if conv.VisitorEmail != "alice@example.com" {
		t.Fatalf("email should be stored lowercased, got %q", conv.VisitorEmail)
	}
	if conv.Phase() != models.PhaseActive {
		t.Fatalf("expected active after email, got %s", conv.Phase())
	}
	last = conv.Messages[len(conv.Messages)-1]
	if !strings.Contains(last.Body, "SAVE20") {
		t.Fatalf("coupon code should be interpolated, got %q", last.Body)
	}
	if strings.Contains(last.Body, "{coupon}") {
		t.Fatal("placeholder should be replaced")
	}
}

func TestOnboardingDisabled(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()

	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err := svc.HandleVisitorMessage(ctx, "v-1", "Alice"); err != nil {
		t.Fatal(err)
	}

	conv, _ := st.GetConversation(ctx, snap.Conversation.ID)
	if conv.VisitorName != "" {
		t.Fatal("disabled bot must not capture identity")
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != models.RoleVisitor {
		t.Fatalf("disabled bot must not synthesize replies, got %+v", conv.Messages)
	}
}

func TestVisitorMessageFanout(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	visitor := NewVisitorClient("v-1")
	if _, err := svc.ConnectVisitor(ctx, visitor, "", "", models.ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID

	watcher := NewAdminClient("", "Watcher")
	svc.ConnectAdmin(watcher)

	viewer := NewAdminClient("", "Viewer")
	svc.ConnectAdmin(viewer)
	if err := svc.OpenChat(ctx, viewer, convID); err != nil {
		t.Fatal(err)
	}

	drain(visitor)
	drain(watcher)
	drain(viewer)

	if err := svc.HandleVisitorMessage(ctx, "v-1", "hello"); err != nil {
		t.Fatal(err)
	}

	// The author gets no echo.
	if events := drain(visitor); len(events) != 0 {
		t.Fatalf("visitor must not receive an echo, got %+v", events)
	}

	// Every admin gets exactly one compact notice on the shared channel.
	watcherMsgs := eventsOfType(drain(watcher), EvNewMessage)
	if len(watcherMsgs) != 1 {
		t.Fatalf("expected exactly 1 shared notice, got %d", len(watcherMsgs))
	}

	// A viewing admin additionally gets the full message on the
	// conversation channel.
	viewerMsgs := eventsOfType(drain(viewer), EvNewMessage)
	if len(viewerMsgs) != 2 {
		t.Fatalf("expected notice + full message for viewer, got %d", len(viewerMsgs))
	}
}

func TestBotReplyFanout(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	visitor := NewVisitorClient("v-1")
	if _, err := svc.ConnectVisitor(ctx, visitor, "", "", models.ClientMeta{}); err != nil {
		t.Fatal(err)
	}

	admin := NewAdminClient("", "Watcher")
	svc.ConnectAdmin(admin)

	drain(visitor)
	drain(admin)

	if err := svc.HandleVisitorMessage(ctx, "v-1", "Alice"); err != nil {
		t.Fatal(err)
	}

	// Visitor receives only the synthetic reply, in order, no echo.
	visitorMsgs := eventsOfType(drain(visitor), EvNewMessage)
	if len(visitorMsgs) != 1 {
		t.Fatalf("expected exactly the bot reply for the visitor, got %d events", len(visitorMsgs))
	}

	// The shared admin channel gets one notice for the human message and
	// nothing extra for the synthetic reply.
	adminMsgs := eventsOfType(drain(admin), EvNewMessage)
	if len(adminMsgs) != 1 {
		t.Fatalf("synthetic replies must not notify the shared channel, got %d events", len(adminMsgs))
	}
}

func TestVisitorMessageWithoutConversation(t *testing.T) {
	svc, _ := newTestService(t, true)

	err := svc.HandleVisitorMessage(context.Background(), "v-unknown", "hi")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdminReply(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()

	visitor := NewVisitorClient("v-1")
	if _, err := svc.ConnectVisitor(ctx, visitor, "", "", models.ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	drain(visitor)

	msg, err := svc.HandleAdminReply(ctx, snap.Conversation.ID, "How can I help?", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != models.RoleAdmin || !msg.Read {
		t.Fatalf("admin replies are born read, got %+v", msg)
	}

	events := eventsOfType(drain(visitor), EvNewMessage)
	if len(events) != 1 {
		t.Fatalf("visitor should receive the reply, got %d events", len(events))
	}

	// Unread count only tracks visitor messages.
	unread, _ := st.UnreadCount(ctx, snap.Conversation.ID)
	if unread != 0 {
		t.Fatalf("admin reply must not count as unread, got %d", unread)
	}
}

func TestAdminReplyClosedConversation(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err := svc.Close(ctx, snap.Conversation.ID, "Alice"); err != nil {
		t.Fatal(err)
	}

	_, err := svc.HandleAdminReply(ctx, snap.Conversation.ID, "too late", "Alice")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for closed conversation, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()

	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID

	if err := svc.Close(ctx, convID, "Alice"); err != nil {
		t.Fatal(err)
	}

	conv, _ := st.GetConversation(ctx, convID)
	if conv.Status != models.StatusClosed {
		t.Fatalf("expected closed, got %s", conv.Status)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != models.RoleSystem || !strings.Contains(last.Body, "Alice") {
		t.Fatalf("expected terminal system message naming the agent, got %+v", last)
	}
	count := len(conv.Messages)

	// Closing again is a no-op.
	if err := svc.Close(ctx, convID, "Bob"); err != nil {
		t.Fatal(err)
	}
	conv, _ = st.GetConversation(ctx, convID)
	if len(conv.Messages) != count {
		t.Fatal("second close must not append another message")
	}
	if conv.ClosedBy != "Alice" {
		t.Fatalf("second close must not change closed_by, got %q", conv.ClosedBy)
	}
}

func TestMarkReadBroadcast(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()

	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID
	svc.HandleVisitorMessage(ctx, "v-1", "hello")

	admin := NewAdminClient("", "Watcher")
	svc.ConnectAdmin(admin)
	drain(admin)

	if _, err := svc.MarkRead(ctx, convID); err != nil {
		t.Fatal(err)
	}

	unread, _ := st.UnreadCount(ctx, convID)
	if unread != 0 {
		t.Fatalf("expected 0 unread, got %d", unread)
	}

	updates := eventsOfType(drain(admin), EvReadUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected one read_update broadcast, got %d", len(updates))
	}
}

func TestDeleteNotifies(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()

	visitor := NewVisitorClient("v-1")
	if _, err := svc.ConnectVisitor(ctx, visitor, "", "", models.ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})

	admin := NewAdminClient("", "Watcher")
	svc.ConnectAdmin(admin)
	drain(visitor)
	drain(admin)

	if err := svc.Delete(ctx, snap.Conversation.ID); err != nil {
		t.Fatal(err)
	}

	if got, _ := st.GetConversation(ctx, snap.Conversation.ID); got != nil {
		t.Fatal("conversation should be deleted")
	}
	if events := eventsOfType(drain(visitor), EvClosed); len(events) != 1 {
		t.Fatal("visitor should see the conversation end")
	}
	if events := eventsOfType(drain(admin), EvDeleted); len(events) != 1 {
		t.Fatal("admins should see the deletion")
	}
}

func TestMessageValidation(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()
	svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})

	if err := svc.HandleVisitorMessage(ctx, "v-1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty body should fail validation, got %v", err)
	}
	long := strings.Repeat("x", maxMessageBytes+1)
	if err := svc.HandleVisitorMessage(ctx, "v-1", long); !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized body should fail validation, got %v", err)
	}
}

func TestConcurrentVisitorMessagesAllStored(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- svc.HandleVisitorMessage(ctx, "v-1", fmt.Sprintf("message %d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	conv, err := st.GetConversation(ctx, snap.Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != n {
		t.Fatalf("expected all %d racing messages stored, got %d", n, len(conv.Messages))
	}
	seen := make(map[string]bool, n)
	for _, m := range conv.Messages {
		if seen[m.Body] {
			t.Fatalf("message %q stored twice", m.Body)
		}
		seen[m.Body] = true
	}
}

func TestCloseRacingAdminReply(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID

	// Hold the visitor lock so both operations pass their pre-lock lookup
	// against an open conversation and queue on the lock together.
	unlock := svc.locks.acquire("v-1")

	closeDone := make(chan struct{})
	go func() {
		defer close(closeDone)
		if err := svc.Close(ctx, convID, "Alice"); err != nil {
			t.Error(err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	replyErr := make(chan error, 1)
	go func() {
		_, err := svc.HandleAdminReply(ctx, convID, "late reply", "Bob")
		replyErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	unlock()
	<-closeDone
	err := <-replyErr

	conv, _ := st.GetConversation(ctx, convID)
	if conv.Status != models.StatusClosed {
		t.Fatalf("expected closed conversation, got %s", conv.Status)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != models.RoleSystem {
		t.Fatalf("nothing may follow the terminal system message, got %+v", conv.Messages)
	}
	if err == nil {
		// The reply won the lock; it must then precede the terminal message.
		if len(conv.Messages) != 2 || conv.Messages[0].Role != models.RoleAdmin {
			t.Fatalf("accepted reply must precede the terminal message, got %+v", conv.Messages)
		}
	} else if !errors.Is(err, ErrValidation) {
		t.Fatalf("reply losing the race should fail validation, got %v", err)
	}
}

func TestConcurrentCloseAppendsOneTerminalMessage(t *testing.T) {
	svc, st := newTestService(t, false)
	ctx := context.Background()
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	convID := snap.Conversation.ID

	var wg sync.WaitGroup
	for _, agent := range []string{"Alice", "Bob"} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			if err := svc.Close(ctx, convID, agent); err != nil {
				t.Error(err)
			}
		}(agent)
	}
	wg.Wait()

	conv, _ := st.GetConversation(ctx, convID)
	system := 0
	for _, m := range conv.Messages {
		if m.Role == models.RoleSystem {
			system++
		}
	}
	if system != 1 {
		t.Fatalf("racing closes must append exactly one terminal message, got %d", system)
	}
}

func TestOpenChatHistoryReflectsMarkRead(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	if err := svc.HandleVisitorMessage(ctx, "v-1", "anyone there?"); err != nil {
		t.Fatal(err)
	}

	admin := NewAdminClient("", "Watcher")
	svc.ConnectAdmin(admin)
	drain(admin)

	if err := svc.OpenChat(ctx, admin, snap.Conversation.ID); err != nil {
		t.Fatal(err)
	}

	histories := eventsOfType(drain(admin), EvHistory)
	if len(histories) != 1 {
		t.Fatalf("expected one history replay, got %d", len(histories))
	}
	var payload HistoryPayload
	if err := json.Unmarshal(histories[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Messages) == 0 {
		t.Fatal("history should contain the visitor message")
	}
	for _, m := range payload.Messages {
		if m.Role == models.RoleVisitor && !m.Read {
			t.Fatalf("opening a chat marks it read; history must agree, got %+v", m)
		}
	}
}

func TestStaleAdminDisconnect(t *testing.T) {
	svc, _ := newTestService(t, false)

	observer := NewAdminClient("", "Observer")
	svc.ConnectAdmin(observer)

	first := NewAdminClient("agent-9", "Dana")
	svc.ConnectAdmin(first)
	second := NewAdminClient("agent-9", "Dana")
	svc.ConnectAdmin(second)
	drain(observer)

	// The replaced connection going away must not disturb presence.
	svc.DisconnectAdmin(first)
	if got := svc.presence.Snapshot().Admins; got != 2 {
		t.Fatalf("stale disconnect must not remove the live connection, got %d admins", got)
	}
	if events := eventsOfType(drain(observer), EvStats); len(events) != 0 {
		t.Fatalf("stale disconnect must not broadcast stats, got %d events", len(events))
	}

	svc.DisconnectAdmin(second)
	if got := svc.presence.Snapshot().Admins; got != 1 {
		t.Fatalf("expected only the observer left, got %d admins", got)
	}
	if events := eventsOfType(drain(observer), EvStats); len(events) != 1 {
		t.Fatalf("live disconnect should broadcast stats once, got %d events", len(events))
	}
}

func TestBotDelayDefersBroadcastNotAppend(t *testing.T) {
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	log := zerolog.Nop()
	presence := NewPresence()
	hub := NewHub(presence, log)
	bot := NewBot(st, "SAVE20", 500*time.Millisecond, true, log)
	svc := NewService(st, hub, presence, bot, log)

	ctx := context.Background()
	visitor := NewVisitorClient("v-1")
	if _, err := svc.ConnectVisitor(ctx, visitor, "", "", models.ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.OpenOrResume(ctx, "v-1", "", "", models.ClientMeta{})
	drain(visitor)

	done := make(chan error, 1)
	go func() { done <- svc.HandleVisitorMessage(ctx, "v-1", "Alice") }()

	// The reply must be durable well before the delay elapses; only its
	// broadcast waits.
	deadline := time.Now().Add(250 * time.Millisecond)
	for {
		conv, err := st.GetConversation(ctx, snap.Conversation.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Messages) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reply should be appended before the delay elapses")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if events := eventsOfType(drain(visitor), EvNewMessage); len(events) != 0 {
		t.Fatalf("the reply broadcast should wait out the delay, got %d events", len(events))
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if events := eventsOfType(drain(visitor), EvNewMessage); len(events) != 1 {
		t.Fatalf("visitor should receive the reply after the delay, got %d events", len(events))
	}
}
