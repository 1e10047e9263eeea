package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lollxz/campaignctl/internal/domain"
)

var contactPsql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const contactColumns = `
	id, event_id, name, prefix, email, cc_store, stage, status,
	last_message_type, last_triggered_at, last_sent_body, last_sent_at,
	last_reply_body, last_reply_at, campaign_paused, email_bounced, flow_type,
	attachment_data, attachment_filename, attachment_mime_type,
	forms_link, payment_link, invoice_number, assigned_to,
	email_error, last_error_at, trigger, created_at, updated_at
`

// contactColumnsQualified is contactColumns re-qualified with the "c" alias
// used by ListActiveGroupedBySender's join against campaign_events.
const contactColumnsQualified = `
	c.id, c.event_id, c.name, c.prefix, c.email, c.cc_store, c.stage, c.status,
	c.last_message_type, c.last_triggered_at, c.last_sent_body, c.last_sent_at,
	c.last_reply_body, c.last_reply_at, c.campaign_paused, c.email_bounced, c.flow_type,
	c.attachment_data, c.attachment_filename, c.attachment_mime_type,
	c.forms_link, c.payment_link, c.invoice_number, c.assigned_to,
	c.email_error, c.last_error_at, c.trigger, c.created_at, c.updated_at
`

// ContactRepository implements domain.ContactRepository, grounded on the
// teacher's contact_postgres.go squirrel idiom, trimmed to campaignctl's
// single-tenant schema (no workspace_id).
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) domain.ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Get(ctx context.Context, id string) (*domain.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE id = $1`, contactColumns)
	row := r.db.QueryRowContext(ctx, query, id)
	c, err := scanContactRow(row)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "contact", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) GetByEmail(ctx context.Context, email string) ([]*domain.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE LOWER(email) = LOWER($1)`, contactColumns)
	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Contact
	for rows.Next() {
		c, err := scanContactRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContactRepository) ListActiveForDecisionEngine(ctx context.Context) ([]*domain.Contact, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE campaign_paused = FALSE AND email_bounced = FALSE
		  AND LOWER(stage) NOT IN ('completed', 'cancelled')
		  AND LOWER(status) NOT IN ('replied', 'completed', 'cancelled')
		ORDER BY last_triggered_at ASC NULLS FIRST
	`, contactColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Contact
	for rows.Next() {
		c, err := scanContactRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContactRepository) ListActiveGroupedBySender(ctx context.Context) (map[string][]*domain.Contact, error) {
	query := fmt.Sprintf(`
		SELECT %s, e.sender_email
		FROM contacts c
		JOIN campaign_events e ON e.id = c.event_id
		WHERE c.campaign_paused = FALSE AND c.email_bounced = FALSE
		  AND LOWER(c.stage) NOT IN ('completed', 'cancelled')
	`, contactColumnsQualified)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[string][]*domain.Contact)
	for rows.Next() {
		var senderEmail string
		c, err := scanContactRowWithExtra(rows, &senderEmail)
		if err != nil {
			return nil, err
		}
		grouped[senderEmail] = append(grouped[senderEmail], c)
	}
	return grouped, rows.Err()
}

func (r *ContactRepository) Update(ctx context.Context, c *domain.Contact) error {
	c.UpdatedAt = time.Now().UTC()

	query, args, err := contactPsql.Update("contacts").
		Set("name", c.Name).
		Set("prefix", c.Prefix).
		Set("email", c.Email).
		Set("cc_store", c.CCStore).
		Set("stage", c.Stage).
		Set("status", c.Status).
		Set("last_message_type", c.LastMessageType).
		Set("last_triggered_at", c.LastTriggeredAt).
		Set("last_sent_body", c.LastSentBody).
		Set("last_sent_at", c.LastSentAt).
		Set("last_reply_body", c.LastReplyBody).
		Set("last_reply_at", c.LastReplyAt).
		Set("campaign_paused", c.CampaignPaused).
		Set("email_bounced", c.EmailBounced).
		Set("flow_type", c.FlowType).
		Set("attachment_data", c.AttachmentData).
		Set("attachment_filename", c.AttachmentFilename).
		Set("attachment_mime_type", c.AttachmentMimeType).
		Set("forms_link", c.FormsLink).
		Set("payment_link", c.PaymentLink).
		Set("invoice_number", c.InvoiceNumber).
		Set("assigned_to", c.AssignedTo).
		Set("email_error", c.EmailError).
		Set("last_error_at", c.LastErrorAt).
		Set("trigger", c.Trigger).
		Set("updated_at", c.UpdatedAt).
		Where(sq.Eq{"id": c.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building contact update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &domain.ErrNotFound{Entity: "contact", ID: c.ID}
	}
	return nil
}

func (r *ContactRepository) MarkBounced(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET email_bounced = TRUE,
		    campaign_paused = TRUE,
		    stage = 'mail delivery',
		    updated_at = now()
		WHERE LOWER(email) = LOWER($1) AND email_bounced = FALSE
		  AND (stage IS NULL OR LOWER(stage) NOT IN ('completed', 'invoice & confirmation', 'payment due', 'wrong person'))
	`, email)
	return err
}

func (r *ContactRepository) MarkReplied(ctx context.Context, id string, replyBody string, repliedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = 'Replied',
		    campaign_paused = TRUE,
		    last_reply_body = $2,
		    last_reply_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, replyBody, repliedAt)
	return err
}

func (r *ContactRepository) AppendTrigger(ctx context.Context, id string, line string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET trigger = COALESCE(trigger || E'\n', '') || $2,
		    updated_at = now()
		WHERE id = $1
	`, id, line)
	return err
}

func scanContactRow(s rowScanner) (*domain.Contact, error) {
	return scanContactRowWithExtra(s, nil)
}

func scanContactRowWithExtra(s rowScanner, extra *string) (*domain.Contact, error) {
	var c domain.Contact
	var prefix, lastSentBody, lastReplyBody, flowType, attachmentFilename, attachmentMimeType sql.NullString
	var formsLink, paymentLink, invoiceNumber, assignedTo, emailError sql.NullString
	var lastMessageType sql.NullString
	var lastTriggeredAt, lastSentAt, lastReplyAt, lastErrorAt sql.NullTime

	dest := []interface{}{
		&c.ID, &c.EventID, &c.Name, &prefix, &c.Email, &c.CCStore, &c.Stage, &c.Status,
		&lastMessageType, &lastTriggeredAt, &lastSentBody, &lastSentAt,
		&lastReplyBody, &lastReplyAt, &c.CampaignPaused, &c.EmailBounced, &flowType,
		&c.AttachmentData, &attachmentFilename, &attachmentMimeType,
		&formsLink, &paymentLink, &invoiceNumber, &assignedTo,
		&emailError, &lastErrorAt, &c.Trigger, &c.CreatedAt, &c.UpdatedAt,
	}
	if extra != nil {
		dest = append(dest, extra)
	}

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if prefix.Valid {
		c.Prefix = &prefix.String
	}
	if lastMessageType.Valid {
		mt := domain.MessageType(lastMessageType.String)
		c.LastMessageType = &mt
	}
	if lastTriggeredAt.Valid {
		c.LastTriggeredAt = &lastTriggeredAt.Time
	}
	if lastSentBody.Valid {
		c.LastSentBody = &lastSentBody.String
	}
	if lastSentAt.Valid {
		c.LastSentAt = &lastSentAt.Time
	}
	if lastReplyBody.Valid {
		c.LastReplyBody = &lastReplyBody.String
	}
	if lastReplyAt.Valid {
		c.LastReplyAt = &lastReplyAt.Time
	}
	if flowType.Valid {
		c.FlowType = &flowType.String
	}
	if attachmentFilename.Valid {
		c.AttachmentFilename = &attachmentFilename.String
	}
	if attachmentMimeType.Valid {
		c.AttachmentMimeType = &attachmentMimeType.String
	}
	if formsLink.Valid {
		c.FormsLink = &formsLink.String
	}
	if paymentLink.Valid {
		c.PaymentLink = &paymentLink.String
	}
	if invoiceNumber.Valid {
		c.InvoiceNumber = &invoiceNumber.String
	}
	if assignedTo.Valid {
		c.AssignedTo = &assignedTo.String
	}
	if emailError.Valid {
		c.EmailError = &emailError.String
	}
	if lastErrorAt.Valid {
		c.LastErrorAt = &lastErrorAt.Time
	}

	return &c, nil
}
