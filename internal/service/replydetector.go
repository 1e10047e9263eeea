package service

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/advisorylock"
	"github.com/lollxz/campaignctl/pkg/logger"
	"github.com/lollxz/campaignctl/pkg/mailtransport"
	"github.com/lollxz/campaignctl/pkg/metrics"
)

const replyDetectorLockKey = "campaignctl:reply_detector"
const inboxFetchSize = 100

// subjectPrefixPattern strips one or more leading Re:/Fwd: (and localized
// RE:/FW:) tags before the subject-heuristic correlation tiers compare
// normalized subjects (spec.md §4.5 step 3).
var subjectPrefixPattern = regexp.MustCompile(`(?i)^\s*((re|fwd|fw)\s*:\s*)+`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// sentAnchor is a contact's most recent confirmed-sent message, the
// reference point every correlation tier in spec.md §4.5 step 3 matches
// against.
type sentAnchor struct {
	contact *domain.Contact
	row     *domain.QueueRow
}

// ReplyDetector is the Reply & Bounce Detector of spec.md §4.5: a singleton,
// advisory-locked worker that polls every sender mailbox's inbox, classifies
// bounces, and correlates replies back to contacts. Loop shape grounded on
// the same automation_scheduler.go pattern as QueueWorker and DecisionEngine.
type ReplyDetector struct {
	db *sql.DB

	logger      logger.Logger
	contactRepo domain.ContactRepository
	messageRepo domain.MessageRepository
	bouncedRepo domain.BouncedEmailRepository
	queueRepo   domain.QueueRowRepository
	transport   mailtransport.Transport

	interval time.Duration

	stopChan    chan struct{}
	stoppedChan chan struct{}
	mu          sync.Mutex
	running     bool
	lock        *advisorylock.SessionLock
}

func NewReplyDetector(
	db *sql.DB,
	log logger.Logger,
	contactRepo domain.ContactRepository,
	messageRepo domain.MessageRepository,
	bouncedRepo domain.BouncedEmailRepository,
	queueRepo domain.QueueRowRepository,
	transport mailtransport.Transport,
	interval time.Duration,
) *ReplyDetector {
	return &ReplyDetector{
		db:          db,
		logger:      log,
		contactRepo: contactRepo,
		messageRepo: messageRepo,
		bouncedRepo: bouncedRepo,
		queueRepo:   queueRepo,
		transport:   transport,
		interval:    interval,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

func (d *ReplyDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	lock, acquired, err := advisorylock.NewSessionLock(ctx, d.db, replyDetectorLockKey)
	if err != nil {
		return fmt.Errorf("acquiring reply detector singleton lock: %w", err)
	}
	if !acquired {
		d.logger.Info("reply detector already running elsewhere, skipping start")
		return nil
	}

	d.lock = lock
	d.running = true
	go d.run(ctx)
	return nil
}

func (d *ReplyDetector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	select {
	case <-d.stoppedChan:
	case <-time.After(5 * time.Second):
		d.logger.Warn("reply detector stop timed out waiting for run loop")
	}

	if d.lock != nil {
		if err := d.lock.Release(context.Background()); err != nil {
			d.logger.WithField("error", err.Error()).Error("releasing reply detector advisory lock")
		}
	}
}

func (d *ReplyDetector) run(ctx context.Context) {
	defer close(d.stoppedChan)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.processTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.processTick(ctx)
		}
	}
}

// processTick implements spec.md §4.5's prefetch: list active contacts
// grouped by the sender mailbox they inherit from their event, then process
// each mailbox's inbox once.
func (d *ReplyDetector) processTick(ctx context.Context) {
	grouped, err := d.contactRepo.ListActiveGroupedBySender(ctx)
	if err != nil {
		d.logger.WithField("error", err.Error()).Error("listing active contacts for reply detector")
		return
	}

	for senderEmail, contacts := range grouped {
		if err := d.processMailbox(ctx, senderEmail, contacts); err != nil {
			d.logger.WithField("sender_email", senderEmail).WithField("error", err.Error()).
				Error("processing mailbox in reply detector")
		}
	}
}

// processMailbox implements spec.md §4.5's per-mailbox fetch and per-message
// bounce/reply processing.
func (d *ReplyDetector) processMailbox(ctx context.Context, senderEmail string, contacts []*domain.Contact) error {
	anchors, err := d.buildAnchors(ctx, contacts)
	if err != nil {
		return err
	}

	messages, err := d.transport.FetchInbox(ctx, senderEmail, inboxFetchSize)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := d.processInboundMessage(ctx, msg, contacts, anchors); err != nil {
			d.logger.WithField("message_id", msg.ID).WithField("error", err.Error()).
				Error("processing inbound message")
		}
	}
	return nil
}

// buildAnchors resolves each contact's "last sent anchor": the most recent
// queue row in status=sent with a non-null message_id (spec.md §4.5
// prefetch). Contacts with no confirmed send yet are absent from the result
// and no messages-table fallback is built for them, so the anchor-based
// tiers never match them; only the message-to-contact map tier can.
func (d *ReplyDetector) buildAnchors(ctx context.Context, contacts []*domain.Contact) ([]sentAnchor, error) {
	var anchors []sentAnchor
	for _, c := range contacts {
		row, err := d.queueRepo.LatestSentByContactAndPrefix(ctx, c.ID, "")
		if err != nil {
			return nil, err
		}
		if row == nil || row.MessageID == nil {
			continue
		}
		anchors = append(anchors, sentAnchor{contact: c, row: row})
	}
	return anchors, nil
}

func (d *ReplyDetector) processInboundMessage(ctx context.Context, msg mailtransport.InboxMessage, contacts []*domain.Contact, anchors []sentAnchor) error {
	exists, err := d.messageRepo.Exists(ctx, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if isBounceEmail(msg.Subject, msg.Body, msg.FromAddress) {
		return d.handleBounce(ctx, msg, contacts)
	}

	contact, _ := d.correlateReply(ctx, msg, contacts, anchors)
	if contact == nil {
		return nil
	}
	if !d.verifyReply(msg, contact) {
		return nil
	}

	return d.applyReply(ctx, msg, contact)
}

// handleBounce implements spec.md §4.5 step 2.
func (d *ReplyDetector) handleBounce(ctx context.Context, msg mailtransport.InboxMessage, contacts []*domain.Contact) error {
	address := extractBouncedAddress(msg.Body)
	if address == "" {
		address = strings.ToLower(msg.FromAddress)
	}
	if address == "" {
		return nil
	}

	bounceType, reason := classifyBounce(msg.Body)
	now := time.Now().UTC()

	if err := d.bouncedRepo.Upsert(ctx, address, bounceType, reason, now); err != nil {
		return err
	}
	if err := d.contactRepo.MarkBounced(ctx, address); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := d.queueRepo.FailAllPendingForRecipient(ctx, tx, address); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, c := range contacts {
		if !strings.EqualFold(parseFirstAddress(c.Email), address) {
			continue
		}
		_ = d.contactRepo.AppendTrigger(ctx, c.ID,
			fmt.Sprintf("%s: bounce detected (%s): %s", now.Format(time.RFC3339), bounceType, reason))
	}
	return nil
}

// correlateReply implements spec.md §4.5 step 3's five-tier cascade, trying
// each in order of strength and returning on the first hit.
func (d *ReplyDetector) correlateReply(ctx context.Context, msg mailtransport.InboxMessage, contacts []*domain.Contact, anchors []sentAnchor) (*domain.Contact, *sentAnchor) {
	if inReplyTo := normalizeMessageID(msg.InReplyTo); inReplyTo != "" {
		if contactID, ok, err := d.messageRepo.ResolveContactByMessageID(ctx, inReplyTo); err == nil && ok {
			for _, c := range contacts {
				if c.ID == contactID {
					return c, findAnchorFor(anchors, c.ID)
				}
			}
			if c, err := d.contactRepo.Get(ctx, contactID); err == nil {
				return c, nil
			}
		}
	}

	inReplyTo := normalizeMessageID(msg.InReplyTo)
	for i := range anchors {
		a := anchors[i]
		if a.row.MessageID != nil && inReplyTo != "" && normalizeMessageID(*a.row.MessageID) == inReplyTo {
			return a.contact, &a
		}
	}

	if msg.ConversationID != "" {
		for i := range anchors {
			a := anchors[i]
			if a.row.ConversationID != nil && *a.row.ConversationID == msg.ConversationID {
				return a.contact, &a
			}
		}
	}

	normalizedSubject := normalizeSubject(msg.Subject)
	toAndCC := addressSet(msg.ToRecipients, msg.CCRecipients)

	for i := range anchors {
		a := anchors[i]
		if a.row.Subject == "" {
			continue
		}
		if strings.Contains(normalizedSubject, normalizeSubject(a.row.Subject)) && toAndCC[strings.ToLower(parseFirstAddress(a.contact.Email))] {
			return a.contact, &a
		}
	}

	fromLower := strings.ToLower(msg.FromAddress)
	for i := range anchors {
		a := anchors[i]
		if a.row.Subject == "" {
			continue
		}
		if strings.EqualFold(parseFirstAddress(a.contact.Email), fromLower) && strings.Contains(normalizedSubject, normalizeSubject(a.row.Subject)) {
			return a.contact, &a
		}
	}

	return nil, nil
}

// verifyReply implements spec.md §4.5 step 4: the inbound From must match
// one of the contact's own addresses, or the contact must appear in the
// inbound's To/Cc set (a CC'd reply).
func (d *ReplyDetector) verifyReply(msg mailtransport.InboxMessage, contact *domain.Contact) bool {
	fromLower := strings.ToLower(msg.FromAddress)
	for _, addr := range parseAddressListString(contact.Email) {
		if addr == fromLower {
			return true
		}
	}
	toAndCC := addressSet(msg.ToRecipients, msg.CCRecipients)
	return toAndCC[strings.ToLower(parseFirstAddress(contact.Email))]
}

// applyReply implements spec.md §4.5 step 5. MessageRepository's Insert and
// ContactRepository's MarkReplied both operate on the shared pool rather
// than a caller-supplied *sql.Tx (the same scope limitation documented on
// QueueWorker.recordSend), so true single-transaction atomicity across the
// two tables isn't available without widening those interfaces.
func (d *ReplyDetector) applyReply(ctx context.Context, msg mailtransport.InboxMessage, contact *domain.Contact) error {
	receivedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, msg.ReceivedAt); err == nil {
		receivedAt = t
	}

	if err := d.contactRepo.MarkReplied(ctx, contact.ID, msg.Body, receivedAt); err != nil {
		return err
	}

	m := &domain.Message{
		ProviderID: msg.ID,
		Direction:  domain.MessageDirectionReceived,
		ContactID:  contact.ID,
		Subject:    msg.Subject,
		Body:       msg.Body,
		SentAt:     receivedAt,
	}
	if msg.ConversationID != "" {
		m.ConversationID = &msg.ConversationID
	}
	if msg.InReplyTo != "" {
		m.InReplyTo = &msg.InReplyTo
	}
	if err := d.messageRepo.Insert(ctx, m); err != nil {
		return err
	}
	metrics.RecordDetectorMatch(ctx)

	return d.contactRepo.AppendTrigger(ctx, contact.ID,
		fmt.Sprintf("%s: reply received, campaign paused", receivedAt.Format(time.RFC3339)))
}

func findAnchorFor(anchors []sentAnchor, contactID string) *sentAnchor {
	for i := range anchors {
		if anchors[i].contact.ID == contactID {
			return &anchors[i]
		}
	}
	return nil
}

func normalizeMessageID(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func normalizeSubject(s string) string {
	s = subjectPrefixPattern.ReplaceAllString(s, "")
	s = subjectPrefixPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

func addressSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, l := range lists {
		for _, addr := range l {
			set[strings.ToLower(strings.TrimSpace(addr))] = true
		}
	}
	return set
}
