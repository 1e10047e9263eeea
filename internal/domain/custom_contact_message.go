package domain

import "context"

// CustomContactMessage is an operator-authored subject/body override pinned
// to one contact, consulted by the Template Resolver before the static
// lookup table (SPEC_FULL.md §3.1, grounded on original_source/custom_messages.py).
type CustomContactMessage struct {
	ContactID    string  `json:"contact_id"`
	MessageType  string  `json:"message_type"`
	Stage        string  `json:"stage"`
	ReminderType *string `json:"reminder_type,omitempty"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
}

// CustomContactMessageRepository is the Persistence Store surface for §3.1's override table.
type CustomContactMessageRepository interface {
	Get(ctx context.Context, contactID, messageType, stage string, reminderType *string) (*CustomContactMessage, error)
	Upsert(ctx context.Context, m *CustomContactMessage) error
}
