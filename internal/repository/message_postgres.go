package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lollxz/campaignctl/internal/domain"
)

// MessageRepository implements domain.MessageRepository, grounded on the
// teacher's message_history_postgre.go squirrel idiom.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) domain.MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, provider_id, direction, contact_id, subject, body, conversation_id, in_reply_to, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_id) DO NOTHING
	`, m.ID, m.ProviderID, m.Direction, m.ContactID, m.Subject, m.Body, m.ConversationID, m.InReplyTo, m.SentAt, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Exists(ctx context.Context, providerID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE provider_id = $1`, providerID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MessageRepository) MapContact(ctx context.Context, providerID, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_contact_map (provider_id, contact_id)
		VALUES ($1, $2)
		ON CONFLICT (provider_id) DO NOTHING
	`, providerID, contactID)
	return err
}

func (r *MessageRepository) ResolveContactByMessageID(ctx context.Context, providerID string) (string, bool, error) {
	var contactID string
	err := r.db.QueryRowContext(ctx, `SELECT contact_id FROM message_contact_map WHERE provider_id = $1`, providerID).Scan(&contactID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return contactID, true, nil
}

func (r *MessageRepository) LatestSentByContact(ctx context.Context, contactID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, provider_id, direction, contact_id, subject, body, conversation_id, in_reply_to, sent_at, created_at
		FROM messages
		WHERE contact_id = $1 AND direction = 'sent'
		ORDER BY sent_at DESC
		LIMIT 1
	`, contactID)

	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	var m domain.Message
	var conversationID, inReplyTo sql.NullString

	err := s.Scan(&m.ID, &m.ProviderID, &m.Direction, &m.ContactID, &m.Subject, &m.Body, &conversationID, &inReplyTo, &m.SentAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if conversationID.Valid {
		m.ConversationID = &conversationID.String
	}
	if inReplyTo.Valid {
		m.InReplyTo = &inReplyTo.String
	}
	return &m, nil
}
