package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/metrics"
	"github.com/storefront-labs/livechat/internal/models"
	"github.com/storefront-labs/livechat/internal/store"
)

// ErrNotFound indicates a reply or open referenced a conversation that no
// longer exists. Reported to the originating connection only.
var ErrNotFound = errors.New("conversation not found")

// ErrValidation marks non-fatal input errors reported back to the
// originating connection without touching conversation state.
var ErrValidation = errors.New("validation")

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

const maxMessageBytes = 4096

// Snapshot is the full conversation state returned to a connecting
// visitor for client replay.
type Snapshot struct {
	Conversation *models.Conversation
	Phase        models.Phase
	AgentName    string
	AgentAvatar  string
}

// Service orchestrates the chat core: session lifecycle, message flow,
// onboarding, read receipts and broadcasting. All conversation mutations
// for a visitor are serialized through a per-visitor lock; the store's
// append is the durable serialization point.
type Service struct {
	store    store.ConversationStore
	hub      *Hub
	presence *Presence
	bot      *Bot
	log      zerolog.Logger
	locks    *visitorLocks
}

// NewService wires the chat core together.
func NewService(st store.ConversationStore, hub *Hub, presence *Presence, bot *Bot, log zerolog.Logger) *Service {
	return &Service{
		store:    st,
		hub:      hub,
		presence: presence,
		bot:      bot,
		log:      log,
		locks:    newVisitorLocks(),
	}
}

// Presence exposes the registry for stats endpoints.
func (s *Service) Presence() *Presence { return s.presence }

// OpenOrResume looks up the visitor's open conversation, reusing it if
// present, or creates a new one. Supplied name/email fill only fields
// that are currently empty. The welcome message is appended exactly once:
// when both name and email become known for the first time on a
// conversation with zero messages.
func (s *Service) OpenOrResume(ctx context.Context, visitorID, name, email string, meta models.ClientMeta) (*Snapshot, error) {
	if visitorID == "" {
		return nil, validationError("visitor id is required")
	}
	name = sanitizeName(name)
	if email != "" && !isValidEmail(email) {
		email = ""
	}

	unlock := s.locks.acquire(visitorID)
	defer unlock()

	conv, err := s.store.FindOpenByVisitor(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	welcome := false
	if conv == nil {
		conv, err = s.store.CreateConversation(ctx, visitorID, name, email, meta)
		if err != nil {
			return nil, err
		}
		welcome = name != "" && email != ""
		metrics.ConversationsOpened.Inc()
	} else {
		// Identity completes now only if both fields are being supplied
		// for the first time on a message-less conversation.
		welcome = conv.VisitorName == "" && conv.VisitorEmail == "" &&
			name != "" && email != "" && len(conv.Messages) == 0

		if (name != "" && conv.VisitorName == "") || (email != "" && conv.VisitorEmail == "") {
			if err := s.store.UpdateVisitorIdentity(ctx, conv.ID, name, email); err != nil {
				return nil, err
			}
			if conv.VisitorName == "" {
				conv.VisitorName = name
			}
			if conv.VisitorEmail == "" {
				conv.VisitorEmail = email
			}
		}
	}

	if welcome {
		msg, err := s.bot.WelcomeMessage(ctx, conv.ID.String())
		if err != nil {
			return nil, err
		}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, *msg)
	}

	snap := &Snapshot{Conversation: conv, Phase: conv.Phase()}
	if agent, err := s.store.GetActiveAgent(ctx); err == nil && agent != nil {
		snap.AgentName = agent.Name
		snap.AgentAvatar = agent.Avatar
	}
	return snap, nil
}

// ConnectVisitor runs the full visitor connection flow: open or resume
// the conversation, register presence, replay history to the visitor and
// notify admins.
func (s *Service) ConnectVisitor(ctx context.Context, c *Client, name, email string, meta models.ClientMeta) (*Snapshot, error) {
	snap, err := s.OpenOrResume(ctx, c.VisitorID, name, email, meta)
	if err != nil {
		return nil, err
	}
	conv := snap.Conversation

	s.presence.AddVisitor(c)
	metrics.LiveConnections.WithLabelValues("visitor").Inc()

	c.push(NewEvent(EvHistory, HistoryPayload{
		ConversationID: conv.ID.String(),
		Messages:       conv.Messages,
		Phase:          snap.Phase,
		AgentName:      snap.AgentName,
		AgentAvatar:    snap.AgentAvatar,
	}))

	unread, err := s.store.UnreadCount(ctx, conv.ID)
	if err != nil {
		unread = 0
	}
	summary := models.ConversationSummary{
		ID:            conv.ID,
		VisitorID:     conv.VisitorID,
		VisitorName:   conv.VisitorName,
		VisitorEmail:  conv.VisitorEmail,
		Meta:          conv.Meta,
		Status:        conv.Status,
		UnreadCount:   unread,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
	}
	if n := len(conv.Messages); n > 0 {
		summary.LastMessage = &conv.Messages[n-1]
	}
	s.hub.ToAdmins(NewEvent(EvVisitorConnected, summary))
	s.broadcastStats()

	return snap, nil
}

// DisconnectVisitor removes the visitor's presence entry and notifies
// admins. The conversation itself is untouched.
func (s *Service) DisconnectVisitor(c *Client) {
	if s.presence.RemoveVisitor(c) {
		metrics.LiveConnections.WithLabelValues("visitor").Dec()
		s.hub.ToAdmins(NewEvent(EvVisitorDisconnected, VisitorPresencePayload{VisitorID: c.VisitorID}))
		s.broadcastStats()
	}
}

// ConnectAdmin registers an admin connection.
func (s *Service) ConnectAdmin(c *Client) {
	s.presence.AddAdmin(c)
	metrics.LiveConnections.WithLabelValues("admin").Inc()
	s.broadcastStats()
}

// DisconnectAdmin removes an admin connection silently. The gauge and the
// stats broadcast move only when the registry actually changed; a stale
// connection a reconnect already replaced still has its viewer
// subscriptions dropped.
func (s *Service) DisconnectAdmin(c *Client) {
	s.hub.DropClient(c)
	if s.presence.RemoveAdmin(c) {
		metrics.LiveConnections.WithLabelValues("admin").Dec()
		s.broadcastStats()
	}
}

// broadcastStats sends an aggregate presence snapshot (counts only) to
// the shared admin channel after any presence change.
func (s *Service) broadcastStats() {
	s.hub.ToAdmins(NewEvent(EvStats, s.presence.Snapshot()))
}

// HandleVisitorMessage validates and appends a visitor message, lets the
// onboarding bot consume it, and fans out. Fan-out order is fixed: the
// visitor never receives an echo of their own message; each synthesized
// reply reaches the visitor in generation order; the shared admin channel
// receives exactly one compact notification for the human message. Both
// appends happen under the visitor lock; the cosmetic bot delay only
// postpones the reply broadcast, so the lock is never held across it.
func (s *Service) HandleVisitorMessage(ctx context.Context, visitorID, text string) error {
	if visitorID == "" {
		return validationError("visitor id is required")
	}
	if text == "" {
		return validationError("message body is required")
	}
	if len(text) > maxMessageBytes {
		return validationError("message body too long")
	}

	conv, msg, reply, unread, err := s.appendVisitorTurn(ctx, visitorID, text)
	if err != nil {
		return err
	}

	s.hub.ToAdmins(NewEvent(EvNewMessage, MessageNoticePayload{
		ConversationID: conv.ID.String(),
		VisitorID:      visitorID,
		Message:        *msg,
		UnreadCount:    unread,
	}))
	s.hub.ToViewers(conv.ID, NewEvent(EvNewMessage, NewMessagePayload{
		ConversationID: conv.ID.String(),
		Message:        *msg,
	}))

	if reply == nil {
		return nil
	}

	if d := s.bot.Delay(); d > 0 {
		time.Sleep(d)
	}
	// Synthetic replies go to the visitor and open viewers, never as an
	// extra shared-admin notification.
	s.hub.ToVisitor(visitorID, NewEvent(EvNewMessage, NewMessagePayload{
		ConversationID: conv.ID.String(),
		Message:        *reply,
	}))
	s.hub.ToViewers(conv.ID, NewEvent(EvNewMessage, NewMessagePayload{
		ConversationID: conv.ID.String(),
		Message:        *reply,
	}))

	return nil
}

// appendVisitorTurn is HandleVisitorMessage's critical section: under the
// visitor lock it appends the human message, derives the unread count and
// appends any synthetic reply, so concurrent events for one visitor
// serialize and no other append can interleave between a message and the
// reply it provoked.
func (s *Service) appendVisitorTurn(ctx context.Context, visitorID, text string) (*models.Conversation, *models.Message, *models.Message, int, error) {
	unlock := s.locks.acquire(visitorID)
	defer unlock()

	conv, err := s.store.FindOpenByVisitor(ctx, visitorID)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	if conv == nil {
		return nil, nil, nil, 0, validationError("no open conversation for visitor")
	}

	msg := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleVisitor,
		SenderName:     conv.VisitorName,
		Body:           text,
	}
	// Fatal for this operation: nothing is broadcast unless the append
	// was durable.
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, nil, 0, err
	}
	metrics.MessagesStored.WithLabelValues(string(models.RoleVisitor)).Inc()

	unread, err := s.store.UnreadCount(ctx, conv.ID)
	if err != nil {
		unread = 0
	}

	reply, err := s.bot.Advance(ctx, conv, text)
	if err != nil {
		// The visitor's message is already durable; a failed bot step
		// must not fail the message path.
		s.log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("onboarding step failed")
		return conv, msg, nil, unread, nil
	}
	if reply == nil {
		return conv, msg, nil, unread, nil
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		s.log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("synthetic reply append failed")
		return conv, msg, nil, unread, nil
	}
	metrics.MessagesStored.WithLabelValues(string(models.RoleBot)).Inc()

	return conv, msg, reply, unread, nil
}

// HandleAdminReply appends an admin reply and fans it out: the visitor's
// channel gets the message; the shared admin channel gets a lightweight
// "updated" notice so other admins' lists refresh without opening the
// thread.
func (s *Service) HandleAdminReply(ctx context.Context, conversationID uuid.UUID, text, agentName string) (*models.Message, error) {
	if text == "" {
		return nil, validationError("message body is required")
	}
	if len(text) > maxMessageBytes {
		return nil, validationError("message body too long")
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}

	unlock := s.locks.acquire(conv.VisitorID)
	defer unlock()

	// Re-fetch under the lock: a concurrent Close on the same visitor
	// may have won the lock first, and nothing may append to a closed
	// conversation.
	conv, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.Status == models.StatusClosed {
		return nil, validationError("conversation is closed")
	}

	msg := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleAdmin,
		SenderName:     agentName,
		Body:           text,
		Read:           true,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(string(models.RoleAdmin)).Inc()

	payload := NewMessagePayload{ConversationID: conv.ID.String(), Message: *msg}
	s.hub.ToVisitor(conv.VisitorID, NewEvent(EvNewMessage, payload))
	s.hub.ToViewers(conv.ID, NewEvent(EvNewMessage, payload))
	s.hub.ToAdmins(NewEvent(EvUpdated, payload))

	return msg, nil
}

// OpenChat joins an admin to a conversation's viewer channel, marks the
// log read and replays full history to the caller.
func (s *Service) OpenChat(ctx context.Context, c *Client, conversationID uuid.UUID) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrNotFound
	}

	s.hub.JoinConversation(conversationID, c)

	if _, err := s.MarkRead(ctx, conversationID); err != nil {
		return err
	}
	// The snapshot predates MarkRead; patch the flags so the replayed
	// history matches what is now stored.
	for i := range conv.Messages {
		if conv.Messages[i].Role == models.RoleVisitor {
			conv.Messages[i].Read = true
		}
	}

	c.push(NewEvent(EvHistory, HistoryPayload{
		ConversationID: conv.ID.String(),
		Messages:       conv.Messages,
		Phase:          conv.Phase(),
	}))
	return nil
}

// MarkRead marks every unread visitor message in the conversation read
// and broadcasts the resulting count (always zero) to the shared admin
// channel. Idempotent; the broadcast happens even when nothing changed.
func (s *Service) MarkRead(ctx context.Context, conversationID uuid.UUID) (int, error) {
	if _, err := s.store.MarkVisitorMessagesRead(ctx, conversationID); err != nil {
		return 0, err
	}
	s.hub.ToAdmins(NewEvent(EvReadUpdate, ReadUpdatePayload{
		ConversationID: conversationID.String(),
		UnreadCount:    0,
	}))
	return 0, nil
}

// Close appends a terminal system message, marks the conversation closed
// and broadcasts closure. A closed conversation is immutable; a later
// reconnect from the same visitor opens a new one. Closing an
// already-closed conversation is a no-op.
func (s *Service) Close(ctx context.Context, conversationID uuid.UUID, closingAgent string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrNotFound
	}

	unlock := s.locks.acquire(conv.VisitorID)
	defer unlock()

	// Re-check under the lock so two racing closes append a single
	// terminal message between them.
	conv, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrNotFound
	}
	if conv.Status == models.StatusClosed {
		return nil
	}

	msg := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleSystem,
		SenderName:     closingAgent,
		Body:           fmt.Sprintf("This conversation has been closed by %s.", closingAgent),
		Read:           true,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	if err := s.store.CloseConversation(ctx, conversationID, closingAgent); err != nil {
		return err
	}
	metrics.ConversationsClosed.Inc()

	payload := ClosedPayload{ConversationID: conv.ID.String(), Message: msg}
	// Delivery to an absent visitor is a no-op, not an error.
	s.hub.ToVisitor(conv.VisitorID, NewEvent(EvClosed, payload))
	s.hub.ToViewers(conv.ID, NewEvent(EvClosed, payload))
	s.hub.ToAdmins(NewEvent(EvClosed, payload))

	return nil
}

// Delete removes a conversation entirely (administrative action) and
// notifies connected clients through the router rather than duplicating
// its logic.
func (s *Service) Delete(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrNotFound
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	s.hub.ToVisitor(conv.VisitorID, NewEvent(EvClosed, ClosedPayload{ConversationID: conv.ID.String()}))
	s.hub.ToAdmins(NewEvent(EvDeleted, DeletedPayload{ConversationID: conv.ID.String()}))
	return nil
}

// VisitorTyping relays a typing signal from a visitor to the admins
// viewing the conversation. Never persisted.
func (s *Service) VisitorTyping(visitorID string, conversationID uuid.UUID, typing bool) {
	ev := EvTyping
	if !typing {
		ev = EvStopTyping
	}
	s.hub.ToViewers(conversationID, NewEvent(ev, TypingPayload{
		VisitorID:      visitorID,
		ConversationID: conversationID.String(),
	}))
}

// AdminTyping relays a typing signal from an admin to the visitor.
func (s *Service) AdminTyping(visitorID string, conversationID uuid.UUID, typing bool) {
	ev := EvTyping
	if !typing {
		ev = EvStopTyping
	}
	s.hub.ToVisitor(visitorID, NewEvent(ev, TypingPayload{
		ConversationID: conversationID.String(),
	}))
}
