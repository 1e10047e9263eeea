package mailtransport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/logger"
	"github.com/lollxz/campaignctl/pkg/ratelimiter"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphAPIBase  = "https://graph.microsoft.com/v1.0"
	graphScope    = "https://graph.microsoft.com/.default"
	sendTimeout   = 30 * time.Second
	verifyTimeout = 10 * time.Second

	verifyMaxRetries  = 3
	verifyRetryDelay  = 2 * time.Second
)

// SenderCredentials is one mailbox's app-only Graph credentials, keyed by
// sender email (lowercased).
type SenderCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// GraphTransport implements Transport against Microsoft Graph's application
// permission flow: one client-credentials grant per configured mailbox,
// httpClient per sender cached for token-refresh reuse, and a shared
// rate limiter namespaced by sender so a single noisy mailbox can't starve
// the others' Graph API quota.
type GraphTransport struct {
	senders map[string]SenderCredentials
	clients map[string]*http.Client
	mu      sync.Mutex
	limiter *ratelimiter.RateLimiter
	log     logger.Logger
}

func NewGraphTransport(senders map[string]SenderCredentials, limiter *ratelimiter.RateLimiter, log logger.Logger) *GraphTransport {
	return &GraphTransport{
		senders: senders,
		clients: make(map[string]*http.Client),
		limiter: limiter,
		log:     log,
	}
}

func (t *GraphTransport) httpClientFor(ctx context.Context, senderEmail string) (*http.Client, error) {
	senderEmail = strings.ToLower(strings.TrimSpace(senderEmail))

	t.mu.Lock()
	if c, ok := t.clients[senderEmail]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	creds, ok := t.senders[senderEmail]
	if !ok {
		return nil, fmt.Errorf("mailtransport: no Graph credentials configured for sender %s", senderEmail)
	}

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", creds.TenantID),
		Scopes:       []string{graphScope},
	}
	client := cfg.Client(ctx)

	t.mu.Lock()
	t.clients[senderEmail] = client
	t.mu.Unlock()

	return client, nil
}

func (t *GraphTransport) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	senderEmail := strings.ToLower(strings.TrimSpace(req.SenderEmail))
	if senderEmail == "" {
		return nil, &domain.ErrQueueRowSend{Reason: "sender_email is required"}
	}

	if !t.limiter.Allow("graph", senderEmail) {
		return nil, &domain.ErrQueueRowSend{Reason: "rate limited for sender " + senderEmail}
	}

	client, err := t.httpClientFor(ctx, senderEmail)
	if err != nil {
		return nil, &domain.ErrQueueRowSend{Reason: "auth", Err: err}
	}

	payload, err := buildSendPayload(req)
	if err != nil {
		return nil, &domain.ErrQueueRowSend{Reason: "payload construction failed", Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", graphAPIBase, url.PathEscape(senderEmail))
	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, sendURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.ErrQueueRowSend{Reason: "building request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &domain.ErrQueueRowSend{Reason: "transport error", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		errCode := gjson.GetBytes(body, "error.code").String()
		errMsg := gjson.GetBytes(body, "error.message").String()
		if errMsg == "" {
			errMsg = string(body)
		}
		t.log.WithFields(map[string]interface{}{"sender": senderEmail, "status": resp.StatusCode, "code": errCode}).Error("graph sendMail rejected")
		return nil, &domain.ErrQueueRowSend{Reason: fmt.Sprintf("graph API %d: %s", resp.StatusCode, errMsg)}
	}

	sentID, convID, err := t.verifyInSentItems(ctx, client, senderEmail, req.Subject, firstOf(req.ToRecipients))
	if err != nil {
		return nil, &domain.ErrQueueRowSend{Reason: "accepted but not confirmed in Sent Items", Err: err}
	}
	if sentID == "" {
		return nil, &domain.ErrQueueRowSend{Reason: "accepted but not confirmed in Sent Items"}
	}

	return &SendResult{MessageID: sentID, ConversationID: convID}, nil
}

func buildSendPayload(req SendRequest) ([]byte, error) {
	contentType := strings.ToUpper(req.ContentType)
	if contentType == "" {
		contentType = "HTML"
	}
	if contentType != "HTML" && contentType != "TEXT" {
		return nil, fmt.Errorf("invalid content type %q", req.ContentType)
	}
	if len(req.ToRecipients) == 0 {
		return nil, fmt.Errorf("to_recipients cannot be empty")
	}

	message := map[string]interface{}{
		"subject": req.Subject,
		"body": map[string]interface{}{
			"contentType": contentType,
			"content":     req.Body,
		},
		"toRecipients": addressList(req.ToRecipients),
	}
	if len(req.CCRecipients) > 0 {
		message["ccRecipients"] = addressList(req.CCRecipients)
	}

	var headers []map[string]string
	if req.InReplyTo != "" {
		headers = append(headers, map[string]string{"name": "In-Reply-To", "value": req.InReplyTo})
	}
	if req.References != "" {
		headers = append(headers, map[string]string{"name": "References", "value": req.References})
	}
	if len(headers) > 0 {
		message["internetMessageHeaders"] = headers
	}

	if req.Attachment != nil && len(req.Attachment.Content) > 0 {
		mimeType := req.Attachment.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		message["attachments"] = []map[string]interface{}{
			{
				"@odata.type": "#microsoft.graph.fileAttachment",
				"name":        req.Attachment.Filename,
				"contentType": mimeType,
				"contentBytes": base64.StdEncoding.EncodeToString(req.Attachment.Content),
			},
		}
	}

	payload := map[string]interface{}{
		"message":         message,
		"saveToSentItems": true,
	}
	return json.Marshal(payload)
}

func addressList(addresses []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		out = append(out, map[string]interface{}{"emailAddress": map[string]string{"address": a}})
	}
	return out
}

// verifyInSentItems polls the sender's Sent Items folder for a message
// matching subject and recipient, confirming the send actually landed
// rather than trusting the 202/204 accept alone.
func (t *GraphTransport) verifyInSentItems(ctx context.Context, client *http.Client, senderEmail, subject, recipient string) (messageID, conversationID string, err error) {
	base := fmt.Sprintf("%s/users/%s/mailFolders/SentItems/messages", graphAPIBase, url.PathEscape(senderEmail))
	q := url.Values{}
	q.Set("$select", "id,internetMessageId,conversationId,subject,toRecipients,sentDateTime")
	q.Set("$orderby", "sentDateTime desc")
	q.Set("$top", "20")
	reqURL := base + "?" + q.Encode()

	for attempt := 1; attempt <= verifyMaxRetries; attempt++ {
		found, convID, msgID, reqErr := t.pollSentItemsOnce(ctx, client, reqURL, subject, recipient)
		if reqErr == nil && found {
			return msgID, convID, nil
		}
		if attempt < verifyMaxRetries {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(verifyRetryDelay):
			}
		}
	}
	return "", "", fmt.Errorf("email not confirmed in Sent Items after %d attempts", verifyMaxRetries)
}

func (t *GraphTransport) pollSentItemsOnce(ctx context.Context, client *http.Client, reqURL, subject, recipient string) (found bool, conversationID, messageID string, err error) {
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(vctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, "", "", err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return false, "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, "", "", fmt.Errorf("graph API %d checking Sent Items: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", "", err
	}

	wantSubject := strings.ToLower(strings.TrimSpace(subject))
	wantRecipient := strings.ToLower(strings.TrimSpace(recipient))

	var matched bool
	gjson.GetBytes(body, "value").ForEach(func(_, msg gjson.Result) bool {
		msgSubject := strings.ToLower(strings.TrimSpace(msg.Get("subject").String()))
		if msgSubject != wantSubject {
			return true
		}
		addressMatch := false
		msg.Get("toRecipients").ForEach(func(_, r gjson.Result) bool {
			if strings.ToLower(r.Get("emailAddress.address").String()) == wantRecipient {
				addressMatch = true
				return false
			}
			return true
		})
		if !addressMatch {
			return true
		}
		messageID = msg.Get("internetMessageId").String()
		conversationID = msg.Get("conversationId").String()
		matched = true
		return false
	})

	return matched, conversationID, messageID, nil
}

func (t *GraphTransport) FetchInbox(ctx context.Context, senderEmail string, maxMessages int) ([]InboxMessage, error) {
	client, err := t.httpClientFor(ctx, senderEmail)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("$select", "id,subject,from,toRecipients,ccRecipients,receivedDateTime,internetMessageHeaders,body,bodyPreview,uniqueBody,conversationId,internetMessageId")
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", "50")
	reqURL := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?%s", graphAPIBase, url.PathEscape(strings.ToLower(senderEmail)), q.Encode())

	var out []InboxMessage
	for reqURL != "" && len(out) < maxMessages {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return out, err
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return out, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return out, readErr
		}
		if resp.StatusCode != http.StatusOK {
			return out, fmt.Errorf("graph API %d fetching inbox: %s", resp.StatusCode, string(body))
		}

		gjson.GetBytes(body, "value").ForEach(func(_, msg gjson.Result) bool {
			out = append(out, parseInboxMessage(msg))
			return len(out) < maxMessages
		})

		reqURL = gjson.GetBytes(body, "@odata.nextLink").String()
	}

	if len(out) > maxMessages {
		out = out[:maxMessages]
	}
	return out, nil
}

func parseInboxMessage(msg gjson.Result) InboxMessage {
	var inReplyTo string
	msg.Get("internetMessageHeaders").ForEach(func(_, h gjson.Result) bool {
		name := strings.ToLower(h.Get("name").String())
		if name == "in-reply-to" || name == "x-in-reply-to" {
			inReplyTo = h.Get("value").String()
			return false
		}
		return true
	})

	bodyContent := msg.Get("uniqueBody.content").String()
	if strings.TrimSpace(bodyContent) == "" {
		bodyContent = msg.Get("body.content").String()
	}
	if strings.TrimSpace(bodyContent) == "" {
		bodyContent = msg.Get("bodyPreview").String()
	}

	return InboxMessage{
		ID:             msg.Get("id").String(),
		Subject:        msg.Get("subject").String(),
		FromAddress:    strings.ToLower(msg.Get("from.emailAddress.address").String()),
		ToRecipients:   parseAddressList(msg.Get("toRecipients")),
		CCRecipients:   parseAddressList(msg.Get("ccRecipients")),
		ReceivedAt:     msg.Get("receivedDateTime").String(),
		ConversationID: msg.Get("conversationId").String(),
		InternetMsgID:  msg.Get("internetMessageId").String(),
		InReplyTo:      inReplyTo,
		Body:           bodyContent,
	}
}

func parseAddressList(recipients gjson.Result) []string {
	var out []string
	recipients.ForEach(func(_, r gjson.Result) bool {
		if addr := strings.ToLower(strings.TrimSpace(r.Get("emailAddress.address").String())); addr != "" {
			out = append(out, addr)
		}
		return true
	})
	return out
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
