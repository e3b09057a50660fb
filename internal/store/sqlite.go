package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/storefront-labs/livechat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/livechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/livechat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL,
		visitor_name TEXT NOT NULL DEFAULT '',
		visitor_email TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_message_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		closed_at DATETIME,
		closed_by TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS subscribers (
		email TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bot_templates (
		id INTEGER PRIMARY KEY CHECK (id = 1),
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

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Seed default templates if not present
	t := models.DefaultTemplates()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bot_templates (id, welcome, ask_name, ask_email, email_retry, coupon_offer)
		VALUES (1, ?, ?, ?, ?, ?)
	`, t.Welcome, t.AskName, t.AskEmail, t.EmailRetry, t.CouponOffer)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation creates a new conversation with status active.
func (s *SQLiteStore) CreateConversation(ctx context.Context, visitorID, name, email string, meta models.ClientMeta) (*models.Conversation, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, visitor_id, visitor_name, visitor_email, ip, browser, device, status, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), visitorID, name, email, meta.IP, meta.Browser, meta.Device, models.StatusActive, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, id)
}

// scanConversation scans one conversation row (without messages).
func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr, status string
	err := row.Scan(
		&idStr,
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
	conv.ID = uuid.MustParse(idStr)
	conv.Status = models.Status(status)
	return conv, nil
}

const conversationColumns = `id, visitor_id, visitor_name, visitor_email, ip, browser, device, status, created_at, last_message_at, closed_at, closed_by`

// GetConversation retrieves a conversation with its full message log.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = ?
	`, id.String())

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

// FindOpenByVisitor retrieves the visitor's open (active or pending)
// conversation, if any, with its full message log.
func (s *SQLiteStore) FindOpenByVisitor(ctx context.Context, visitorID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE visitor_id = ? AND status IN ('active', 'pending')
		ORDER BY created_at DESC LIMIT 1
	`, visitorID)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLiteStore) getMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, sender_name, body, is_read, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var isRead int
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.SenderName, &msg.Body, &isRead, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = models.Role(role)
		msg.Read = isRead == 1
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateVisitorIdentity fills name/email only where currently empty.
func (s *SQLiteStore) UpdateVisitorIdentity(ctx context.Context, id uuid.UUID, name, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			visitor_name = CASE WHEN visitor_name = '' THEN ? ELSE visitor_name END,
			visitor_email = CASE WHEN visitor_email = '' THEN ? ELSE visitor_email END
		WHERE id = ?
	`, name, email, id.String())
	return err
}

// CloseConversation marks a conversation closed and records who closed it.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id uuid.UUID, closedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'closed', closed_at = ?, closed_by = ?
		WHERE id = ? AND status != 'closed'
	`, time.Now().UTC(), closedBy, id.String())
	return err
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	return err
}

// ListConversations retrieves conversation summaries with pagination.
// Unread counts are always derived, never stored.
func (s *SQLiteStore) ListConversations(ctx context.Context, opts ListOptions) ([]models.ConversationSummary, int, error) {
	where := "1=1"
	args := []any{}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Query != "" {
		where += " AND (visitor_name LIKE ? OR visitor_email LIKE ? OR visitor_id LIKE ?)"
		q := "%" + opts.Query + "%"
		args = append(args, q, q, q)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id AND m.role = 'visitor' AND m.is_read = 0)
		FROM conversations
		WHERE `+where+`
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var sum models.ConversationSummary
		var idStr, status, closedBy string
		var closedAt *time.Time
		if err := rows.Scan(
			&idStr,
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
		sum.ID = uuid.MustParse(idStr)
		sum.Status = models.Status(status)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Attach the most recent message per conversation
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
func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	var role string
	var isRead int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, sender_name, body, is_read, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1
	`, conversationID.String()).Scan(&msg.ID, &msg.ConversationID, &role, &msg.SenderName, &msg.Body, &isRead, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.Role = models.Role(role)
	msg.Read = isRead == 1
	return &msg, nil
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CountOpenConversations returns the number of open conversations.
func (s *SQLiteStore) CountOpenConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE status IN ('active', 'pending')`).Scan(&count)
	return count, err
}

// AppendMessage durably appends a message and bumps the conversation's
// last-message timestamp in one transaction. Generates the message ID and
// timestamp if unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	isRead := 0
	if msg.Read {
		isRead = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, sender_name, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.SenderName, msg.Body, isRead, msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// MarkVisitorMessagesRead marks all unread visitor messages read.
// Idempotent; returns the number of rows updated.
func (s *SQLiteStore) MarkVisitorMessagesRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND role = 'visitor' AND is_read = 0
	`, conversationID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount returns the derived count of unread visitor messages.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND role = 'visitor' AND is_read = 0
	`, conversationID.String()).Scan(&count)
	return count, err
}

// TotalUnread returns the unread visitor message count across all open
// conversations.
func (s *SQLiteStore) TotalUnread(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.role = 'visitor' AND m.is_read = 0 AND c.status IN ('active', 'pending')
	`).Scan(&count)
	return count, err
}

// CreateAgent creates a new agent persona. The first agent created becomes
// active automatically.
func (s *SQLiteStore) CreateAgent(ctx context.Context, name, avatar string) (*models.Agent, error) {
	id := uuid.New()
	now := time.Now().UTC()

	var existing int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&existing); err != nil {
		return nil, err
	}
	isActive := 0
	if existing == 0 {
		isActive = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, avatar, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), name, avatar, isActive, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetAgent(ctx, id)
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{}
	var idStr string
	var isActive int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar, is_active, created_at, updated_at
		FROM agents WHERE id = ?
	`, id.String()).Scan(&idStr, &agent.Name, &agent.Avatar, &isActive, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.ID = uuid.MustParse(idStr)
	agent.IsActive = isActive == 1
	return agent, nil
}

// ListAgents retrieves all agent personas.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var idStr string
		var isActive int
		if err := rows.Scan(&idStr, &agent.Name, &agent.Avatar, &isActive, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
			return nil, err
		}
		agent.ID = uuid.MustParse(idStr)
		agent.IsActive = isActive == 1
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateAgent updates an agent's name and avatar.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, id uuid.UUID, name, avatar string) (*models.Agent, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, avatar = ?, updated_at = ? WHERE id = ?
	`, name, avatar, time.Now().UTC(), id.String())
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent persona.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id.String())
	return err
}

// SetActiveAgent makes the given agent the single active persona.
func (s *SQLiteStore) SetActiveAgent(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE agents SET is_active = 0 WHERE is_active = 1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE agents SET is_active = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

// GetActiveAgent retrieves the currently active agent persona, if any.
func (s *SQLiteStore) GetActiveAgent(ctx context.Context) (*models.Agent, error) {
	agent := &models.Agent{}
	var idStr string
	var isActive int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar, is_active, created_at, updated_at
		FROM agents WHERE is_active = 1 LIMIT 1
	`).Scan(&idStr, &agent.Name, &agent.Avatar, &isActive, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.ID = uuid.MustParse(idStr)
	agent.IsActive = isActive == 1
	return agent, nil
}

// UpsertSubscriber records a newsletter subscriber. Idempotent: inserting
// an already-subscribed email is a no-op.
func (s *SQLiteStore) UpsertSubscriber(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO subscribers (email, created_at) VALUES (?, ?)
	`, email, time.Now().UTC())
	return err
}

// GetTemplates retrieves the onboarding message templates.
func (s *SQLiteStore) GetTemplates(ctx context.Context) (*models.BotTemplates, error) {
	t := &models.BotTemplates{}
	err := s.db.QueryRowContext(ctx, `
		SELECT welcome, ask_name, ask_email, email_retry, coupon_offer
		FROM bot_templates WHERE id = 1
	`).Scan(&t.Welcome, &t.AskName, &t.AskEmail, &t.EmailRetry, &t.CouponOffer)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTemplates replaces the onboarding message templates.
func (s *SQLiteStore) UpdateTemplates(ctx context.Context, t *models.BotTemplates) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bot_templates SET welcome = ?, ask_name = ?, ask_email = ?, email_retry = ?, coupon_offer = ?
		WHERE id = 1
	`, t.Welcome, t.AskName, t.AskEmail, t.EmailRetry, t.CouponOffer)
	return err
}
