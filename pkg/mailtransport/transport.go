// Package mailtransport sends and reads campaign mail through Microsoft
// Graph, grounded on original_source/graph_email.py's send_graph_email /
// _verify_email_in_sent_items / fetch_all_inbox_messages. Per-mailbox OAuth2
// is handled by golang.org/x/oauth2/clientcredentials instead of MSAL, and
// Graph JSON responses are read with tidwall/gjson rather than full struct
// unmarshaling since only a handful of fields are ever needed.
package mailtransport

import "context"

// Attachment is a single file to attach to an outgoing message.
type Attachment struct {
	Filename string
	MimeType string
	Content  []byte
}

// SendRequest describes one outgoing message.
type SendRequest struct {
	SenderEmail    string
	ToRecipients   []string
	CCRecipients   []string
	Subject        string
	Body           string
	ContentType    string // "HTML" or "TEXT"
	InReplyTo      string
	References     string
	ConversationID string
	Attachment     *Attachment
}

// SendResult carries the provider identifiers a successful send needs to
// persist for later threading and reply matching.
type SendResult struct {
	MessageID      string
	ConversationID string
}

// InboxMessage is a single message read back from a mailbox's inbox folder.
type InboxMessage struct {
	ID             string
	Subject        string
	FromAddress    string
	ToRecipients   []string
	CCRecipients   []string
	ReceivedAt     string // RFC3339, as returned by Graph
	ConversationID string
	InternetMsgID  string
	InReplyTo      string
	Body           string
}

// Transport sends a message and confirms delivery, and lists a mailbox's
// recent inbox messages for the reply/bounce detector.
type Transport interface {
	// Send delivers req and returns only once the provider has confirmed the
	// message landed in Sent Items (or the equivalent for a non-Graph
	// transport); a SendResult is returned only on confirmed success.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)

	// FetchInbox returns up to maxMessages of the sender mailbox's most
	// recent inbox messages, newest first.
	FetchInbox(ctx context.Context, senderEmail string, maxMessages int) ([]InboxMessage, error)
}
