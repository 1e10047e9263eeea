package domain

import (
	"context"
	"database/sql"
	"time"
)

// QueueRow is a single outbound-message job (spec.md §3 "Queue Row").
type QueueRow struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
	EventID   string `json:"event_id"`

	SenderEmail    string `json:"sender_email"`
	RecipientEmail string `json:"recipient_email"`

	// CCRecipients is a snapshot taken at enqueue time; it is never recomputed
	// from the contact's live cc_store once the row exists.
	CCRecipients string `json:"cc_recipients"`

	Subject string `json:"subject"`
	Message string `json:"message"`

	LastMessageType MessageType    `json:"last_message_type"`
	Status          QueueRowStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	DueAt       time.Time  `json:"due_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	AttachmentData     []byte  `json:"-"`
	AttachmentFilename *string `json:"attachment_filename,omitempty"`
	AttachmentMimeType *string `json:"attachment_mime_type,omitempty"`

	ConversationID *string `json:"conversation_id,omitempty"`
	MessageID      *string `json:"message_id,omitempty"`
	InReplyTo      *string `json:"in_reply_to,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
}

// IsLocked reports whether the row has already been confirmed sent, past
// which spec.md §3 forbids any further mutation.
func (r *QueueRow) IsLocked() bool {
	return r.Status == QueueRowStatusSent
}

// queuePriorityTiers implements spec.md §4.3's fetch ordering: lower index
// sorts first. Anything not matched here falls into the catch-all last tier.
var queuePriorityTiers = map[MessageType]int{
	MessageTypeFormsInitial:    0,
	MessageTypePaymentsInitial: 0,
	MessageTypeSepaInitial:     0,
	MessageTypeRHInitial:       0,

	MessageTypeFormsReminder1: 1,
	MessageTypeFormsReminder2: 1,
	MessageTypeFormsReminder3: 1,

	MessageTypePaymentsReminder1: 2,
	MessageTypePaymentsReminder2: 2,
	MessageTypePaymentsReminder3: 2,
	MessageTypePaymentsReminder4: 2,
	MessageTypePaymentsReminder5: 2,
	MessageTypePaymentsReminder6: 2,

	MessageTypeSepaReminder1: 3,
	MessageTypeSepaReminder2: 3,
	MessageTypeSepaReminder3: 3,

	MessageTypeRHReminder1: 4,
	MessageTypeRHReminder2: 4,
	MessageTypeRHReminder3: 4,

	MessageTypeCampaignMain: 5,
	MessageTypeReminder1:    5,
	MessageTypeReminder2:    5,
}

const queuePriorityTierDefault = 6

// PriorityTier returns the fetch-ordering tier for a message type, honoring
// the legacy aliases forms_main/payment_main as their canonical initial tier.
func PriorityTier(mt MessageType) int {
	switch mt {
	case "forms_main", "payment_main":
		return 0
	}
	if tier, ok := queuePriorityTiers[mt]; ok {
		return tier
	}
	return queuePriorityTierDefault
}

// CadenceGate is the minimum elapsed time after the predecessor send before a
// message type becomes eligible to send (spec.md §4.3 step 5, §4.4 table).
// Initial messages and custom-step-N are absent: no gate applies to them.
var CadenceGate = map[MessageType]time.Duration{
	MessageTypeReminder1: 3 * 24 * time.Hour,
	MessageTypeReminder2: 4 * 24 * time.Hour,

	MessageTypeFormsReminder1: 2 * 24 * time.Hour,
	MessageTypeFormsReminder2: 2 * 24 * time.Hour,
	MessageTypeFormsReminder3: 3 * 24 * time.Hour,

	MessageTypePaymentsReminder1: 2 * 24 * time.Hour,
	MessageTypePaymentsReminder2: 2 * 24 * time.Hour,
	MessageTypePaymentsReminder3: 3 * 24 * time.Hour,
	MessageTypePaymentsReminder4: 7 * 24 * time.Hour,
	MessageTypePaymentsReminder5: 7 * 24 * time.Hour,
	MessageTypePaymentsReminder6: 7 * 24 * time.Hour,

	MessageTypeSepaReminder1: 2 * 24 * time.Hour,
	MessageTypeSepaReminder2: 2 * 24 * time.Hour,
	MessageTypeSepaReminder3: 2 * 24 * time.Hour,

	MessageTypeRHReminder1: 2 * 24 * time.Hour,
	MessageTypeRHReminder2: 2 * 24 * time.Hour,
	MessageTypeRHReminder3: 2 * 24 * time.Hour,
}

// ErrorRetryGate is the 1-hour gate applied to the 'error' message_type state
// (spec.md §4.4 table, last row).
const ErrorRetryGate = time.Hour

// QueueRowRepository is the Persistence Store surface for QueueRow.
type QueueRowRepository interface {
	Enqueue(ctx context.Context, row *QueueRow) error
	EnqueueTx(ctx context.Context, tx *sql.Tx, row *QueueRow) error

	// FetchPending selects the oldest (by created_at) limit due rows, using
	// FOR UPDATE SKIP LOCKED, and returns them ordered by priority tier then
	// FIFO (spec.md §4.3 fetch step). The tier order applies within that
	// batch only: a higher-tier row that is not among the oldest limit due
	// rows is not fetched ahead of them.
	FetchPending(ctx context.Context, limit int) ([]*QueueRow, error)

	// WithRowLock runs fn inside a transaction holding a FOR UPDATE SKIP
	// LOCKED lock on the given row id; if the row is already locked elsewhere
	// or no longer exists, fn is not called and ok is false.
	WithRowLock(ctx context.Context, id string, fn func(tx *sql.Tx, row *QueueRow) error) (ok bool, err error)

	// ExistsActiveDuplicate implements spec.md §4.3 step 2 / §4.4's
	// duplicate re-check: a row with the same (contact_id, last_message_type,
	// recipient_email) in {pending, sent} created within the lookback window,
	// other than excludeRowID itself (pass "" when checking before the row
	// under consideration exists, e.g. from the decision engine).
	ExistsActiveDuplicate(ctx context.Context, tx *sql.Tx, contactID string, mt MessageType, recipient string, createdAfter time.Time, excludeRowID string) (bool, error)

	// FindOlderStuckPending implements the stuck-row GC of spec.md §4.3 step 6:
	// an older pending row for the same (contact, message_type) than the
	// given row's created_at, by more than the given age.
	FindOlderStuckPending(ctx context.Context, tx *sql.Tx, contactID string, mt MessageType, newerThan time.Time, olderThanAge time.Duration) (*QueueRow, error)

	MarkSent(ctx context.Context, tx *sql.Tx, id string, sentAt time.Time, messageID, conversationID string) error
	MarkFailed(ctx context.Context, tx *sql.Tx, id string, reason string) error
	MarkSkipped(ctx context.Context, tx *sql.Tx, id string, reason string) error
	Reschedule(ctx context.Context, tx *sql.Tx, id string, scheduledAt time.Time) error
	PersistAttachment(ctx context.Context, tx *sql.Tx, id string, data []byte, filename, mimeType string) error

	// LatestSentByContactAndPrefix resolves the cadence anchor of spec.md
	// §4.4: the most recent sent row whose last_message_type starts with the
	// given normalized-stage prefix.
	LatestSentByContactAndPrefix(ctx context.Context, contactID, prefix string) (*QueueRow, error)

	// LatestSentByContactAndType resolves the "prior step's row" lookup
	// spec.md §4.4 requires to verify a predecessor was actually sent, not
	// merely queued.
	LatestSentByContactAndType(ctx context.Context, contactID string, mt MessageType) (*QueueRow, error)

	// CountActiveByContactAndType supports the decision engine's
	// pending-exists guard (spec.md §4.4).
	CountActiveByContactAndType(ctx context.Context, contactID string, mt MessageType, statuses []QueueRowStatus) (int, error)

	FailAllPendingForRecipient(ctx context.Context, tx *sql.Tx, recipient string) error
}
