package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/lollxz/campaignctl/internal/domain"
)

var customContactMessagePsql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// CustomContactMessageRepository implements domain.CustomContactMessageRepository,
// the per-contact subject/body override table the Template Resolver consults
// before falling back to the static lookup table.
type CustomContactMessageRepository struct {
	db *sql.DB
}

func NewCustomContactMessageRepository(db *sql.DB) domain.CustomContactMessageRepository {
	return &CustomContactMessageRepository{db: db}
}

func (r *CustomContactMessageRepository) Get(ctx context.Context, contactID, messageType, stage string, reminderType *string) (*domain.CustomContactMessage, error) {
	builder := customContactMessagePsql.Select("contact_id", "message_type", "stage", "reminder_type", "subject", "body").
		From("custom_contact_messages").
		Where(sq.Eq{"contact_id": contactID, "message_type": messageType, "stage": stage})

	if reminderType != nil {
		builder = builder.Where(sq.Eq{"reminder_type": *reminderType})
	} else {
		builder = builder.Where("reminder_type IS NULL")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, query, args...)

	var m domain.CustomContactMessage
	var reminder sql.NullString
	if err := row.Scan(&m.ContactID, &m.MessageType, &m.Stage, &reminder, &m.Subject, &m.Body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if reminder.Valid {
		m.ReminderType = &reminder.String
	}
	return &m, nil
}

func (r *CustomContactMessageRepository) Upsert(ctx context.Context, m *domain.CustomContactMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO custom_contact_messages (contact_id, message_type, stage, reminder_type, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id, message_type, stage, reminder_type) DO UPDATE SET
			subject = EXCLUDED.subject,
			body = EXCLUDED.body
	`, m.ContactID, m.MessageType, m.Stage, m.ReminderType, m.Subject, m.Body)
	return err
}
