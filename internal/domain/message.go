package domain

import (
	"context"
	"time"
)

// Message is the audit of every message the system originated or saw,
// keyed by provider message_id with a unique index preventing re-insertion
// (spec.md §3 "Message").
type Message struct {
	ID             string           `json:"id"`
	ProviderID     string           `json:"provider_id"`
	Direction      MessageDirection `json:"direction"`
	ContactID      string           `json:"contact_id"`
	Subject        string           `json:"subject"`
	Body           string           `json:"body"`
	ConversationID *string          `json:"conversation_id,omitempty"`
	InReplyTo      *string          `json:"in_reply_to,omitempty"`
	SentAt         time.Time        `json:"sent_at"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageRepository is the Persistence Store surface for Message, plus the
// message_id → contact_id map (spec.md §3 "Message-to-Contact Map").
type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error

	// Exists implements the reply detector's idempotence check (spec.md §4.5
	// step 1): never re-process an inbound provider id already recorded.
	Exists(ctx context.Context, providerID string) (bool, error)

	// MapContact records message_id → contact_id for the primary recipient
	// only (spec.md §3: CCs are intentionally never mapped).
	MapContact(ctx context.Context, providerID, contactID string) error

	// ResolveContactByMessageID implements the reply detector's deterministic
	// map-hit correlation (spec.md §4.5 step 3).
	ResolveContactByMessageID(ctx context.Context, providerID string) (string, bool, error)

	// LatestSentByContact is the messages.sent_at fallback anchor used both
	// by the decision engine's cadence resolution and the reply detector's
	// per-recipient fallback (spec.md §4.4, §4.5).
	LatestSentByContact(ctx context.Context, contactID string) (*Message, error)
}
