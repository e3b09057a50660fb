package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/storefront-labs/livechat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		visitor_id TEXT NOT NULL,
		visitor_name TEXT NOT NULL DEFAULT '',
		visitor_email TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		closed_at TIMESTAMPTZ,
		closed_by TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT UNIQUE NOT NULL,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS agents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS subscribers (
		email TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS bot_templates (
		id INT PRIMARY KEY CHECK (id = 1),
		welcome TEXT NOT NULL,
		ask_name TEXT NOT NULL,
		ask_email TEXT NOT NULL,
		email_retry TEXT NOT NULL,
		coupon_offer TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_visitor_status ON conversations(visitor_id, status);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, role, is_read);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}

	t := models.DefaultTemplates()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_templates (id, welcome, ask_name, ask_email, email_retry, coupon_offer)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, t.Welcome, t.AskName, t.AskEmail, t.EmailRetry, t.CouponOffer)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgConversationColumns = `id, visitor_id, visitor_name, visitor_email, ip, browser, device, status, created_at, last_message_at, closed_at, closed_by`

// CreateConversation creates a new conversation with status active.
func (s *PostgresStore) CreateConversation(ctx context.Context, visitorID, name, email string, meta models.ClientMeta) (*models.Conversation, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, visitor_id, visitor_name, visitor_email, ip, browser, device, status, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, visitorID, name, email, meta.IP, meta.Browser, meta.Device, string(models.StatusActive), now, now)
	if err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, id)
}

func (s *PostgresStore) scanConversationRow(row pgx.Row) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var status string
	err := row.Scan(
		&conv.ID,
		&conv.VisitorID,
		&conv.VisitorName,
		&conv.VisitorEmail,
		&conv.Meta.IP,
		&conv.Meta.Browser,
		&conv.Meta.Device,
		&status,
		&conv.CreatedAt,
		&conv.LastMessageAt,
		&conv.ClosedAt,
		&conv.ClosedBy,
	)
	if err != nil {
		return nil, err
	}
	conv.Status = models.Status(status)
	return conv, nil
}

// GetConversation retrieves a conversation with its full message log.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgConversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := s.scanConversationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	conv.Messages, err = s.getMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindOpenByVisitor retrieves the visitor's open conversation, if any.
func (s *PostgresStore) FindOpenByVisitor(ctx context.Context, visitorID string) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgConversationColumns+` FROM conversations
		WHERE visitor_id = $1 AND status IN ('active', 'pending')
		ORDER BY created_at DESC LIMIT 1
	`, visitorID)
	conv, err := s.scanConversationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	conv.Messages, err = s.getMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// getMessages retrieves a conversation's messages in insertion order.
func (s *PostgresStore) getMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, sender_name, body, is_read, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var convID uuid.UUID
		var role string
		if err := rows.Scan(&msg.ID, &convID, &role, &msg.SenderName, &msg.Body, &msg.Read, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.ConversationID = convID.String()
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateVisitorIdentity fills name/email only where currently empty.
func (s *PostgresStore) UpdateVisitorIdentity(ctx context.Context, id uuid.UUID, name, email string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET
			visitor_name = CASE WHEN visitor_name = '' THEN $1 ELSE visitor_name END,
			visitor_email = CASE WHEN visitor_email = '' THEN $2 ELSE visitor_email END
		WHERE id = $3
	`, name, email, id)
	return err
}

// CloseConversation marks a conversation closed and records who closed it.
func (s *PostgresStore) CloseConversation(ctx context.Context, id uuid.UUID, closedBy string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = 'closed', closed_at = $1, closed_by = $2
		WHERE id = $3 AND status != 'closed'
	`, time.Now().UTC(), closedBy, id)
	return err
}

// DeleteConversation removes a conversation and its messages.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// ListConversations retrieves conversation summaries with pagination.
func (s *PostgresStore) ListConversations(ctx context.Context, opts ListOptions) ([]models.ConversationSummary, int, error) {
	where := "1=1"
	args := []any{}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where += " AND status = $1"
	}
	if opts.Query != "" {
		q := "%" + opts.Query + "%"
		args = append(args, q)
		n := strconv.Itoa(len(args))
		where += " AND (visitor_name ILIKE $" + n + " OR visitor_email ILIKE $" + n + " OR visitor_id ILIKE $" + n + ")"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	limitArg := strconv.Itoa(len(args))
	args = append(args, opts.Offset)
	offsetArg := strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgConversationColumns+`,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id AND m.role = 'visitor' AND m.is_read = FALSE)
		FROM conversations
		WHERE `+where+`
		ORDER BY last_message_at DESC
		LIMIT $`+limitArg+` OFFSET $`+offsetArg, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var sum models.ConversationSummary
		var status, closedBy string
		var closedAt *time.Time
		if err := rows.Scan(
			&sum.ID,
			&sum.VisitorID,
			&sum.VisitorName,
			&sum.VisitorEmail,
			&sum.Meta.IP,
			&sum.Meta.Browser,
			&sum.Meta.Device,
			&status,
			&sum.CreatedAt,
			&sum.LastMessageAt,
			&closedAt,
			&closedBy,
			&sum.UnreadCount,
		); err != nil {
			return nil, 0, err
		}
		sum.Status = models.Status(status)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range summaries {
		msg, err := s.lastMessage(ctx, summaries[i].ID)
		if err != nil {
			return nil, 0, err
		}
		summaries[i].LastMessage = msg
	}

	return summaries, total, nil
}

// lastMessage retrieves the most recent message of a conversation.
func (s *PostgresStore) lastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	var convID uuid.UUID
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, sender_name, body, is_read, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT 1
	`, conversationID).Scan(&msg.ID, &convID, &role, &msg.SenderName, &msg.Body, &msg.Read, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.ConversationID = convID.String()
	msg.Role = models.Role(role)
	return &msg, nil
}

// CountConversations returns the total number of conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CountOpenConversations returns the number of open conversations.
func (s *PostgresStore) CountOpenConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE status IN ('active', 'pending')`).Scan(&count)
	return count, err
}

// AppendMessage durably appends a message and bumps the conversation's
// last-message timestamp in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, sender_name, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.SenderName, msg.Body, msg.Read, msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE conversations SET last_message_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkVisitorMessagesRead marks all unread visitor messages read.
func (s *PostgresStore) MarkVisitorMessagesRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND role = 'visitor' AND is_read = FALSE
	`, conversationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadCount returns the derived count of unread visitor messages.
func (s *PostgresStore) UnreadCount(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND role = 'visitor' AND is_read = FALSE
	`, conversationID).Scan(&count)
	return count, err
}

// TotalUnread returns the unread visitor message count across all open
// conversations.
func (s *PostgresStore) TotalUnread(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.role = 'visitor' AND m.is_read = FALSE AND c.status IN ('active', 'pending')
	`).Scan(&count)
	return count, err
}

// CreateAgent creates a new agent persona. The first agent created becomes
// active automatically.
func (s *PostgresStore) CreateAgent(ctx context.Context, name, avatar string) (*models.Agent, error) {
	id := uuid.New()
	now := time.Now().UTC()

	var existing int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&existing); err != nil {
		return nil, err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, avatar, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, name, avatar, existing == 0, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetAgent(ctx, id)
}

// GetAgent retrieves an agent by ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, avatar, is_active, created_at, updated_at
		FROM agents WHERE id = $1
	`, id).Scan(&agent.ID, &agent.Name, &agent.Avatar, &agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents retrieves all agent personas.
func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, avatar, is_active, created_at, updated_at
		FROM agents ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var agent models.Agent
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Avatar, &agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateAgent updates an agent's name and avatar.
func (s *PostgresStore) UpdateAgent(ctx context.Context, id uuid.UUID, name, avatar string) (*models.Agent, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET name = $1, avatar = $2, updated_at = $3 WHERE id = $4
	`, name, avatar, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent persona.
func (s *PostgresStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return err
}

// SetActiveAgent makes the given agent the single active persona.
func (s *PostgresStore) SetActiveAgent(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE agents SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE agents SET is_active = TRUE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// GetActiveAgent retrieves the currently active agent persona, if any.
func (s *PostgresStore) GetActiveAgent(ctx context.Context) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, avatar, is_active, created_at, updated_at
		FROM agents WHERE is_active = TRUE LIMIT 1
	`).Scan(&agent.ID, &agent.Name, &agent.Avatar, &agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// UpsertSubscriber records a newsletter subscriber. Idempotent.
func (s *PostgresStore) UpsertSubscriber(ctx context.Context, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (email, created_at) VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
	`, email, time.Now().UTC())
	return err
}

// GetTemplates retrieves the onboarding message templates.
func (s *PostgresStore) GetTemplates(ctx context.Context) (*models.BotTemplates, error) {
	t := &models.BotTemplates{}
	err := s.pool.QueryRow(ctx, `
		SELECT welcome, ask_name, ask_email, email_retry, coupon_offer
		FROM bot_templates WHERE id = 1
	`).Scan(&t.Welcome, &t.AskName, &t.AskEmail, &t.EmailRetry, &t.CouponOffer)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTemplates replaces the onboarding message templates.
func (s *PostgresStore) UpdateTemplates(ctx context.Context, t *models.BotTemplates) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bot_templates SET welcome = $1, ask_name = $2, ask_email = $3, email_retry = $4, coupon_offer = $5
		WHERE id = 1
	`, t.Welcome, t.AskName, t.AskEmail, t.EmailRetry, t.CouponOffer)
	return err
}
