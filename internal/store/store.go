package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/storefront-labs/livechat/internal/models"
)

// ListOptions filters and paginates conversation list queries.
type ListOptions struct {
	Status models.Status // empty = all
	Query  string        // matches visitor name, email or visitor ID
	Limit  int
	Offset int
}

// ConversationStore defines the interface for durable chat persistence.
// Both PostgresStore and SQLiteStore implement this interface. It is the
// single source of truth for history and unread counts; AppendMessage is
// the serialization point for per-conversation message ordering.
type ConversationStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Conversation lifecycle
	CreateConversation(ctx context.Context, visitorID, name, email string, meta models.ClientMeta) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindOpenByVisitor(ctx context.Context, visitorID string) (*models.Conversation, error)
	// UpdateVisitorIdentity fills name and/or email only where the stored
	// value is currently empty. It never overwrites.
	UpdateVisitorIdentity(ctx context.Context, id uuid.UUID, name, email string) error
	CloseConversation(ctx context.Context, id uuid.UUID, closedBy string) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	ListConversations(ctx context.Context, opts ListOptions) ([]models.ConversationSummary, int, error)
	CountConversations(ctx context.Context) (int64, error)
	CountOpenConversations(ctx context.Context) (int64, error)

	// Message log
	AppendMessage(ctx context.Context, msg *models.Message) error
	MarkVisitorMessagesRead(ctx context.Context, conversationID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, conversationID uuid.UUID) (int, error)
	TotalUnread(ctx context.Context) (int64, error)

	// Agent personas
	CreateAgent(ctx context.Context, name, avatar string) (*models.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	UpdateAgent(ctx context.Context, id uuid.UUID, name, avatar string) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
	SetActiveAgent(ctx context.Context, id uuid.UUID) error
	GetActiveAgent(ctx context.Context) (*models.Agent, error)

	// Newsletter
	UpsertSubscriber(ctx context.Context, email string) error

	// Onboarding templates
	GetTemplates(ctx context.Context) (*models.BotTemplates, error)
	UpdateTemplates(ctx context.Context, t *models.BotTemplates) error
}
