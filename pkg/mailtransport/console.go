package mailtransport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lollxz/campaignctl/pkg/logger"
)

// ConsoleTransport logs outgoing messages instead of delivering them,
// mirroring the teacher's ConsoleMailer dev-fallback idiom. Used when no
// Graph credentials are configured for an environment (local dev, tests).
type ConsoleTransport struct {
	log logger.Logger
}

func NewConsoleTransport(log logger.Logger) *ConsoleTransport {
	return &ConsoleTransport{log: log}
}

func (c *ConsoleTransport) Send(_ context.Context, req SendRequest) (*SendResult, error) {
	c.log.WithFields(map[string]interface{}{
		"sender":  req.SenderEmail,
		"to":      req.ToRecipients,
		"subject": req.Subject,
	}).Info("console transport: would send email")
	fmt.Printf("--- campaignctl console send ---\nFrom: %s\nTo: %v\nSubject: %s\n\n%s\n---\n",
		req.SenderEmail, req.ToRecipients, req.Subject, req.Body)

	id := uuid.NewString()
	return &SendResult{MessageID: id, ConversationID: id}, nil
}

func (c *ConsoleTransport) FetchInbox(_ context.Context, _ string, _ int) ([]InboxMessage, error) {
	return nil, nil
}
