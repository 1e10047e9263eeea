package domain

import (
	"context"
	"time"
)

// Contact is a single recipient progressing through a drip campaign.
// Field ownership (spec.md §3): the decision engine owns LastMessageType and
// LastTriggeredAt, and sets Status only on the custom-flow branch; the queue
// worker owns LastSentBody/LastSentAt, the mirrored email_error fields, and
// Status after each successful send; the reply detector owns
// Status='Replied' and CampaignPaused.
type Contact struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`

	Name   string  `json:"name"`
	Prefix *string `json:"prefix,omitempty"`

	// Email holds the primary address, optionally followed by comma-separated
	// embedded extras (legacy CC sources still honored at send time).
	Email string `json:"email"`

	// CCStore is a persistent CC list. Storage only: never read at send time
	// directly, never mapped for reply correlation. See cc_recipients on
	// QueueRow for the snapshot actually used when composing a message.
	CCStore string `json:"cc_store"`

	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`

	LastMessageType *MessageType `json:"last_message_type,omitempty"`
	LastTriggeredAt *time.Time   `json:"last_triggered_at,omitempty"`

	LastSentBody *string    `json:"last_sent_body,omitempty"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`

	LastReplyBody *string    `json:"last_reply_body,omitempty"`
	LastReplyAt   *time.Time `json:"last_reply_at,omitempty"`

	CampaignPaused bool `json:"campaign_paused"`
	EmailBounced   bool `json:"email_bounced"`

	FlowType *string `json:"flow_type,omitempty"` // nil or "custom"

	AttachmentData     []byte  `json:"-"`
	AttachmentFilename *string `json:"attachment_filename,omitempty"`
	AttachmentMimeType *string `json:"attachment_mime_type,omitempty"`

	FormsLink     *string `json:"forms_link,omitempty"`
	PaymentLink   *string `json:"payment_link,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	AssignedTo    *string `json:"assigned_to,omitempty"`

	EmailError  *string    `json:"email_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	// Trigger is a human-readable audit column; the decision engine, queue
	// worker and reply detector each append one line per action taken.
	Trigger string `json:"trigger"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEligibleForAutomation implements the gating rule shared by the decision
// engine (§4.4) and the queue worker's contact-gating step (§4.3 step 4):
// paused contacts and those in a terminal stage/status never get new actions.
func (c *Contact) IsEligibleForAutomation() bool {
	if c.CampaignPaused || c.EmailBounced {
		return false
	}
	if c.Stage.IsTerminal() {
		return false
	}
	return !c.Status.IsTerminal()
}

// HasCustomFlow reports whether the contact is on an operator-defined flow
// rather than the default stage cadence.
func (c *Contact) HasCustomFlow() bool {
	return c.FlowType != nil && *c.FlowType == "custom"
}

// ContactRepository is the Persistence Store surface for Contact (spec.md §3, §6).
type ContactRepository interface {
	Get(ctx context.Context, id string) (*Contact, error)
	GetByEmail(ctx context.Context, email string) ([]*Contact, error)

	// ListActiveForDecisionEngine returns every contact eligible for a decision
	// engine tick, ordered by last_triggered_at ascending nulls first
	// (spec.md §4.4).
	ListActiveForDecisionEngine(ctx context.Context) ([]*Contact, error)

	// ListActiveGroupedBySender returns every active contact for the reply
	// detector's prefetch step (spec.md §4.5), keyed by the sender mailbox
	// inherited from the contact's event.
	ListActiveGroupedBySender(ctx context.Context) (map[string][]*Contact, error)

	Update(ctx context.Context, c *Contact) error

	// MarkBounced applies the cascading bounce state change of spec.md §4.5
	// step 2 to every contact sharing the given address.
	MarkBounced(ctx context.Context, email string) error

	// MarkReplied applies spec.md §4.5 step 5. It takes no transaction and
	// runs directly on the connection pool.
	MarkReplied(ctx context.Context, id string, replyBody string, repliedAt time.Time) error

	AppendTrigger(ctx context.Context, id string, line string) error
}
