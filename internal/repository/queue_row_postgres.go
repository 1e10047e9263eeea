package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lollxz/campaignctl/internal/domain"
)

var queueRowPsql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const queueRowColumns = `
	id, contact_id, event_id, sender_email, recipient_email, cc_recipients,
	subject, message, last_message_type, status, created_at, due_at,
	scheduled_at, sent_at, attachment_data, attachment_filename,
	attachment_mime_type, conversation_id, message_id, in_reply_to,
	error_message, retry_count
`

// QueueRowRepository implements domain.QueueRowRepository over PostgreSQL,
// grounded on the teacher's email_queue_postgres.go / task_postgres.go
// squirrel idiom, FOR UPDATE SKIP LOCKED claiming pattern adapted from
// contact_segment_queue_postgres.go.
type QueueRowRepository struct {
	db *sql.DB
}

func NewQueueRowRepository(db *sql.DB) domain.QueueRowRepository {
	return &QueueRowRepository{db: db}
}

func (r *QueueRowRepository) Enqueue(ctx context.Context, row *domain.QueueRow) error {
	return r.enqueue(ctx, r.db, row)
}

func (r *QueueRowRepository) EnqueueTx(ctx context.Context, tx *sql.Tx, row *domain.QueueRow) error {
	return r.enqueue(ctx, tx, row)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *QueueRowRepository) enqueue(ctx context.Context, ex execer, row *domain.QueueRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.Status == "" {
		row.Status = domain.QueueRowStatusPending
	}

	query, args, err := queueRowPsql.Insert("email_queue").
		Columns("id", "contact_id", "event_id", "sender_email", "recipient_email", "cc_recipients",
			"subject", "message", "last_message_type", "status", "created_at", "due_at", "scheduled_at").
		Values(row.ID, row.ContactID, row.EventID, row.SenderEmail, row.RecipientEmail, row.CCRecipients,
			row.Subject, row.Message, row.LastMessageType, row.Status, row.CreatedAt, row.DueAt, row.ScheduledAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	_, err = ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting queue row: %w", err)
	}
	return nil
}

func (r *QueueRowRepository) FetchPending(ctx context.Context, limit int) ([]*domain.QueueRow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM email_queue
		WHERE status = $1 AND due_at <= now()
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, queueRowColumns)

	rows, err := r.db.QueryContext(ctx, query, domain.QueueRowStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending queue rows: %w", err)
	}
	defer rows.Close()

	var out []*domain.QueueRow
	for rows.Next() {
		row, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The fetched batch is ordered by spec.md §4.3's priority tier, then FIFO
	// within the tier; the tier is derived client-side from last_message_type
	// rather than a SQL CASE so the canonical ordering lives in one place
	// (domain.PriorityTier) instead of being duplicated in every query. The
	// SQL LIMIT has already chosen the batch by created_at, so this sort only
	// reorders those rows.
	sort.SliceStable(out, func(i, j int) bool {
		return domain.PriorityTier(out[i].LastMessageType) < domain.PriorityTier(out[j].LastMessageType)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *QueueRowRepository) WithRowLock(ctx context.Context, id string, fn func(tx *sql.Tx, row *domain.QueueRow) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`SELECT %s FROM email_queue WHERE id = $1 FOR UPDATE SKIP LOCKED`, queueRowColumns)
	row := tx.QueryRowContext(ctx, query, id)
	queueRow, err := scanQueueRowRow(row)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := fn(tx, queueRow); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

func (r *QueueRowRepository) ExistsActiveDuplicate(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, recipient string, createdAfter time.Time, excludeRowID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM email_queue
		WHERE contact_id = $1 AND last_message_type = $2 AND LOWER(recipient_email) = LOWER($3)
		  AND status IN ('pending', 'sent') AND created_at >= $4 AND id != $5
	`, contactID, mt, recipient, createdAfter, excludeRowID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *QueueRowRepository) FindOlderStuckPending(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, newerThan time.Time, olderThanAge time.Duration) (*domain.QueueRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM email_queue
		WHERE contact_id = $1 AND last_message_type = $2 AND status = 'pending'
		  AND created_at < $3 AND created_at <= now() - $4::interval
		ORDER BY created_at ASC
		LIMIT 1
	`, queueRowColumns)

	row := tx.QueryRowContext(ctx, query, contactID, mt, newerThan, fmt.Sprintf("%d seconds", int(olderThanAge.Seconds())))
	queueRow, err := scanQueueRowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return queueRow, nil
}

func (r *QueueRowRepository) MarkSent(ctx context.Context, tx *sql.Tx, id string, sentAt time.Time, messageID, conversationID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue
		SET status = 'sent', sent_at = $2, message_id = $3, conversation_id = $4
		WHERE id = $1
	`, id, sentAt, messageID, conversationID)
	return err
}

func (r *QueueRowRepository) MarkFailed(ctx context.Context, tx *sql.Tx, id string, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue
		SET status = 'failed', error_message = $2, retry_count = retry_count + 1
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *QueueRowRepository) MarkSkipped(ctx context.Context, tx *sql.Tx, id string, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue SET status = 'skipped', error_message = $2 WHERE id = $1
	`, id, reason)
	return err
}

func (r *QueueRowRepository) Reschedule(ctx context.Context, tx *sql.Tx, id string, scheduledAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue SET scheduled_at = $2, due_at = $2 WHERE id = $1
	`, id, scheduledAt)
	return err
}

func (r *QueueRowRepository) PersistAttachment(ctx context.Context, tx *sql.Tx, id string, data []byte, filename, mimeType string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue
		SET attachment_data = $2, attachment_filename = $3, attachment_mime_type = $4
		WHERE id = $1
	`, id, data, filename, mimeType)
	return err
}

func (r *QueueRowRepository) LatestSentByContactAndPrefix(ctx context.Context, contactID, prefix string) (*domain.QueueRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM email_queue
		WHERE contact_id = $1 AND status = 'sent' AND last_message_type LIKE $2
		ORDER BY sent_at DESC
		LIMIT 1
	`, queueRowColumns)

	row := r.db.QueryRowContext(ctx, query, contactID, prefix+"%")
	queueRow, err := scanQueueRowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return queueRow, nil
}

func (r *QueueRowRepository) LatestSentByContactAndType(ctx context.Context, contactID string, mt domain.MessageType) (*domain.QueueRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM email_queue
		WHERE contact_id = $1 AND status = 'sent' AND last_message_type = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`, queueRowColumns)

	row := r.db.QueryRowContext(ctx, query, contactID, mt)
	queueRow, err := scanQueueRowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return queueRow, nil
}

func (r *QueueRowRepository) CountActiveByContactAndType(ctx context.Context, contactID string, mt domain.MessageType, statuses []domain.QueueRowStatus) (int, error) {
	strStatuses := make([]string, len(statuses))
	for i, s := range statuses {
		strStatuses[i] = string(s)
	}

	query, args, err := queueRowPsql.Select("count(*)").
		From("email_queue").
		Where(sq.Eq{"contact_id": contactID, "last_message_type": mt, "status": strStatuses}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *QueueRowRepository) FailAllPendingForRecipient(ctx context.Context, tx *sql.Tx, recipient string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE email_queue
		SET status = 'failed', error_message = 'Bounced address - stopping further sends'
		WHERE LOWER(recipient_email) = LOWER($1) AND status = 'pending'
	`, recipient)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueRow(rows *sql.Rows) (*domain.QueueRow, error) {
	return scanQueueRowRow(rows)
}

func scanQueueRowRow(s rowScanner) (*domain.QueueRow, error) {
	var q domain.QueueRow
	var attachmentFilename, attachmentMimeType, conversationID, messageID, inReplyTo, errorMessage sql.NullString
	var sentAt sql.NullTime

	err := s.Scan(
		&q.ID, &q.ContactID, &q.EventID, &q.SenderEmail, &q.RecipientEmail, &q.CCRecipients,
		&q.Subject, &q.Message, &q.LastMessageType, &q.Status, &q.CreatedAt, &q.DueAt,
		&q.ScheduledAt, &sentAt, &q.AttachmentData, &attachmentFilename,
		&attachmentMimeType, &conversationID, &messageID, &inReplyTo,
		&errorMessage, &q.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	if sentAt.Valid {
		q.SentAt = &sentAt.Time
	}
	if attachmentFilename.Valid {
		q.AttachmentFilename = &attachmentFilename.String
	}
	if attachmentMimeType.Valid {
		q.AttachmentMimeType = &attachmentMimeType.String
	}
	if conversationID.Valid {
		q.ConversationID = &conversationID.String
	}
	if messageID.Valid {
		q.MessageID = &messageID.String
	}
	if inReplyTo.Valid {
		q.InReplyTo = &inReplyTo.String
	}
	if errorMessage.Valid {
		q.ErrorMessage = &errorMessage.String
	}

	return &q, nil
}
