package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrConversationConflict reports more than one active conversation for
	// the same (planner, vendor) pair. The schema's partial unique index
	// should make this impossible; hitting it is a data-integrity fault.
	ErrConversationConflict = errors.New("multiple active conversations for pair")

	// ErrNotParticipant reports a sender that is neither the planner nor
	// the vendor of the conversation.
	ErrNotParticipant = errors.New("sender is not a conversation participant")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// Moderator transforms message text before it is persisted. Check returns
// the censored text; callers treat failures as fail-open.
type Moderator interface {
	Check(ctx context.Context, text string) (string, error)
}

type Repository struct {
	db     *sql.DB
	mod    Moderator
	logger *slog.Logger
}

func NewRepository(db *sql.DB, mod Moderator, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, mod: mod, logger: logger}
}

// GetOrCreateConversation returns the active conversation for the pair,
// creating it when none exists. The bool reports whether a row was created.
func (r *Repository) GetOrCreateConversation(ctx context.Context, plannerID, vendorID int64) (*Conversation, bool, error) {
	query := `
		SELECT id, planner_id, vendor_id, event_id, is_active, last_message_at, created_at
		FROM conversations
		WHERE planner_id = $1 AND vendor_id = $2 AND is_active
		LIMIT 2
	`
	rows, err := r.db.QueryContext(ctx, query, plannerID, vendorID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var found []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(&c.ID, &c.PlannerID, &c.VendorID, &c.EventID, &c.IsActive, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, false, err
		}
		found = append(found, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	switch len(found) {
	case 1:
		return found[0], false, nil
	case 0:
		// fall through to insert
	default:
		return nil, false, ErrConversationConflict
	}

	insert := `
		INSERT INTO conversations (planner_id, vendor_id)
		VALUES ($1, $2)
		RETURNING id, planner_id, vendor_id, event_id, is_active, last_message_at, created_at
	`
	c := &Conversation{}
	err = r.db.QueryRowContext(ctx, insert, plannerID, vendorID).
		Scan(&c.ID, &c.PlannerID, &c.VendorID, &c.EventID, &c.IsActive, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ListConversations returns every active conversation the user participates
// in, newest activity first.
func (r *Repository) ListConversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.planner_id, c.vendor_id, c.event_id, c.is_active,
		       c.last_message_at, c.created_at, p.display_name, v.display_name
		FROM conversations c
		JOIN users p ON p.id = c.planner_id
		JOIN users v ON v.id = c.vendor_id
		WHERE (c.planner_id = $1 OR c.vendor_id = $1) AND c.is_active
		ORDER BY c.last_message_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(&c.ID, &c.PlannerID, &c.VendorID, &c.EventID, &c.IsActive,
			&c.LastMessageAt, &c.CreatedAt, &c.PlannerName, &c.VendorName); err != nil {
			return nil, err
		}
		convos = append(convos, c)
	}
	return convos, rows.Err()
}

// SaveMessage verifies the sender is a participant, runs the text through
// the moderation filter (fail-open), and persists the message while bumping
// the conversation's last_message_at. Returns the row with sender display
// fields.
func (r *Repository) SaveMessage(ctx context.Context, conversationID, senderID int64, text, messageType string) (*Message, error) {
	var plannerID, vendorID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT planner_id, vendor_id FROM conversations WHERE id = $1 AND is_active`,
		conversationID,
	).Scan(&plannerID, &vendorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if senderID != plannerID && senderID != vendorID {
		return nil, ErrNotParticipant
	}

	if messageType == "" {
		messageType = "text"
	}

	// Moderation is best-effort: on failure the original text is stored
	// unchanged. A message is never dropped because the filter is down.
	stored := text
	if r.mod != nil {
		censored, err := r.mod.Check(ctx, text)
		if err != nil {
			r.logger.Warn("moderation check failed, storing original text",
				"conversation_id", conversationID, "error", err)
		} else {
			stored = censored
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageText:    stored,
		MessageType:    messageType,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, message_text, message_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_read, created_at
	`, conversationID, senderID, stored, messageType).Scan(&msg.ID, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2`,
		msg.CreatedAt, conversationID,
	); err != nil {
		return nil, err
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT display_name, role FROM users WHERE id = $1`,
		senderID,
	).Scan(&msg.SenderName, &msg.SenderRole); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesPage returns one ascending page of a conversation's messages.
func (r *Repository) MessagesPage(ctx context.Context, conversationID int64, page, limit int) ([]*Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.message_text, m.message_type,
		       m.is_read, m.created_at, u.display_name, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC
		LIMIT $2 OFFSET $3
	`
	return r.scanMessages(r.db.QueryContext(ctx, query, conversationID, limit, offset))
}

// MessagesAfter returns up to limit messages created strictly after the
// cursor, oldest first. This is the polling fallback's fetch.
func (r *Repository) MessagesAfter(ctx context.Context, conversationID int64, after time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.message_text, m.message_type,
		       m.is_read, m.created_at, u.display_name, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND m.created_at > $2
		ORDER BY m.created_at ASC
		LIMIT $3
	`
	return r.scanMessages(r.db.QueryContext(ctx, query, conversationID, after, limit))
}

func (r *Repository) scanMessages(rows *sql.Rows, err error) ([]*Message, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.MessageText, &m.MessageType,
			&m.IsRead, &m.CreatedAt, &m.SenderName, &m.SenderRole); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage fetches one message with sender display fields. Used by the
// delivery layer to enrich raw channel events.
func (r *Repository) GetMessage(ctx context.Context, conversationID, messageID int64) (*Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.message_text, m.message_type,
		       m.is_read, m.created_at, u.display_name, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1 AND m.conversation_id = $2
	`
	m := &Message{}
	err := r.db.QueryRowContext(ctx, query, messageID, conversationID).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.MessageText, &m.MessageType,
			&m.IsRead, &m.CreatedAt, &m.SenderName, &m.SenderRole)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// MarkMessagesAsRead flips every unread message in the conversation not
// sent by userID. Single atomic statement; calling it again is a no-op.
func (r *Repository) MarkMessagesAsRead(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// UnreadCount sums unread messages across every active conversation the
// user participates in. A user with no conversations gets 0, not an error.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.planner_id = $1 OR c.vendor_id = $1)
			AND c.is_active
			AND m.sender_id <> $1
			AND m.is_read = FALSE
	`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
