package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/advisorylock"
	"github.com/lollxz/campaignctl/pkg/businesshours"
	"github.com/lollxz/campaignctl/pkg/logger"
	"github.com/lollxz/campaignctl/pkg/mailtransport"
	"github.com/lollxz/campaignctl/pkg/metrics"
	"github.com/lollxz/campaignctl/pkg/templating"
)

// queueWorkerLockKey is the advisory-lock key backing the singleton
// guarantee of spec.md §4.3's "Singleton (advisory-locked)".
const queueWorkerLockKey = "campaignctl:queue_worker"

// stuckRowAge is the 300s threshold of spec.md §4.3 step 6.
const stuckRowAge = 300 * time.Second

// duplicateLookback is the 1-hour window of spec.md §4.3 step 2.
const duplicateLookback = time.Hour

// cadencePredecessor maps each gated message type to the type whose send
// anchors its cadence gate, spelling out the chain spec.md §4.3 step 5's
// cadence table implies (e.g. payments_reminder3 only becomes due relative
// to payments_reminder2's send, not to any earlier step in the chain).
var cadencePredecessor = map[domain.MessageType]domain.MessageType{
	domain.MessageTypeReminder1: domain.MessageTypeCampaignMain,
	domain.MessageTypeReminder2: domain.MessageTypeReminder1,

	domain.MessageTypeFormsReminder1: domain.MessageTypeFormsInitial,
	domain.MessageTypeFormsReminder2: domain.MessageTypeFormsReminder1,
	domain.MessageTypeFormsReminder3: domain.MessageTypeFormsReminder2,

	domain.MessageTypePaymentsReminder1: domain.MessageTypePaymentsInitial,
	domain.MessageTypePaymentsReminder2: domain.MessageTypePaymentsReminder1,
	domain.MessageTypePaymentsReminder3: domain.MessageTypePaymentsReminder2,
	domain.MessageTypePaymentsReminder4: domain.MessageTypePaymentsReminder3,
	domain.MessageTypePaymentsReminder5: domain.MessageTypePaymentsReminder4,
	domain.MessageTypePaymentsReminder6: domain.MessageTypePaymentsReminder5,

	domain.MessageTypeSepaReminder1: domain.MessageTypeSepaInitial,
	domain.MessageTypeSepaReminder2: domain.MessageTypeSepaReminder1,
	domain.MessageTypeSepaReminder3: domain.MessageTypeSepaReminder2,

	domain.MessageTypeRHReminder1: domain.MessageTypeRHInitial,
	domain.MessageTypeRHReminder2: domain.MessageTypeRHReminder1,
	domain.MessageTypeRHReminder3: domain.MessageTypeRHReminder2,
}

// QueueWorker drains due email_queue rows and hands them to the Mail
// Transport, implementing spec.md §4.3 in full. Loop shape grounded on
// internal/service/automation_scheduler.go's
// ticker/stopChan/stoppedChan/mutex/running idiom; the per-tick singleton
// guarantee it never needed is added here via pkg/advisorylock.SessionLock,
// held for the worker's entire run rather than re-acquired every tick.
type QueueWorker struct {
	db     *sql.DB
	logger logger.Logger

	queueRepo       domain.QueueRowRepository
	contactRepo     domain.ContactRepository
	messageRepo     domain.MessageRepository
	senderStatsRepo domain.SenderStatsRepository
	bouncedRepo     domain.BouncedEmailRepository

	transport mailtransport.Transport

	interval  time.Duration
	batchSize int

	stopChan    chan struct{}
	stoppedChan chan struct{}
	mu          sync.Mutex
	running     bool
	lock        *advisorylock.SessionLock
}

func NewQueueWorker(
	db *sql.DB,
	log logger.Logger,
	queueRepo domain.QueueRowRepository,
	contactRepo domain.ContactRepository,
	messageRepo domain.MessageRepository,
	senderStatsRepo domain.SenderStatsRepository,
	bouncedRepo domain.BouncedEmailRepository,
	transport mailtransport.Transport,
	interval time.Duration,
	batchSize int,
) *QueueWorker {
	return &QueueWorker{
		db:              db,
		logger:          log,
		queueRepo:       queueRepo,
		contactRepo:     contactRepo,
		messageRepo:     messageRepo,
		senderStatsRepo: senderStatsRepo,
		bouncedRepo:     bouncedRepo,
		transport:       transport,
		interval:        interval,
		batchSize:       batchSize,
		stopChan:        make(chan struct{}),
		stoppedChan:     make(chan struct{}),
	}
}

// Start acquires the singleton advisory lock and begins the tick loop. If
// another instance already holds the lock, Start logs and returns without
// error: per spec.md §7 "Advisory lock contention", this is a silent skip,
// not a failure.
func (w *QueueWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("queue worker already running")
		return nil
	}
	w.mu.Unlock()

	lock, acquired, err := advisorylock.NewSessionLock(ctx, w.db, queueWorkerLockKey)
	if err != nil {
		return fmt.Errorf("acquiring queue worker lock: %w", err)
	}
	if !acquired {
		w.logger.Info("queue worker lock already held elsewhere, skipping start")
		return nil
	}

	w.mu.Lock()
	w.running = true
	w.lock = lock
	w.mu.Unlock()

	w.logger.WithField("interval", w.interval).WithField("batch_size", w.batchSize).
		Info("starting queue worker")

	go w.run(ctx)
	return nil
}

func (w *QueueWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)

	select {
	case <-w.stoppedChan:
	case <-time.After(5 * time.Second):
		w.logger.Warn("queue worker stop timeout exceeded")
	}

	if w.lock != nil {
		_ = w.lock.Release(context.Background())
	}
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.processBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *QueueWorker) processBatch(ctx context.Context) {
	rows, err := w.queueRepo.FetchPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("fetching pending queue rows")
		return
	}

	for _, row := range rows {
		ok, err := w.queueRepo.WithRowLock(ctx, row.ID, func(tx *sql.Tx, locked *domain.QueueRow) error {
			return w.processRow(ctx, tx, locked)
		})
		if err != nil {
			w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
				Error("processing queue row")
			continue
		}
		if !ok {
			// Another worker holds this row's lock; normal under
			// FOR UPDATE SKIP LOCKED contention.
			continue
		}
	}
}

// processRow runs the eleven per-row steps of spec.md §4.3 inside the
// transaction WithRowLock opened for this row.
func (w *QueueWorker) processRow(ctx context.Context, tx *sql.Tx, row *domain.QueueRow) error {
	if row.Status != domain.QueueRowStatusPending {
		return nil
	}

	now, err := dbNow(ctx, tx)
	if err != nil {
		return err
	}

	// Step 1: re-check due_at against the DB's authoritative clock.
	if now.Before(row.DueAt) {
		return nil
	}

	// Step 2: duplicate suppression.
	dup, err := w.queueRepo.ExistsActiveDuplicate(ctx, tx, row.ContactID, row.LastMessageType, row.RecipientEmail, now.Add(-duplicateLookback), row.ID)
	if err != nil {
		return err
	}
	if dup {
		return w.queueRepo.MarkSkipped(ctx, tx, row.ID, "duplicate active row for this contact/message_type/recipient")
	}

	// Step 3: business hours re-check.
	if !businesshours.IsBusinessHours(now) {
		return w.queueRepo.Reschedule(ctx, tx, row.ID, businesshours.NextAllowedUKBusinessTime(now))
	}

	contact, err := w.contactRepo.Get(ctx, row.ContactID)
	if err != nil {
		return err
	}

	// Step 4: contact gating.
	if !contact.IsEligibleForAutomation() {
		return w.queueRepo.MarkSkipped(ctx, tx, row.ID, "contact no longer eligible for automation")
	}

	// Step 5: cadence re-verification.
	if gate, gated := domain.CadenceGate[row.LastMessageType]; gated {
		if anchor, ok := w.resolveCadenceAnchor(ctx, contact, row.LastMessageType); ok {
			due := anchor.Add(gate)
			if now.Before(due) {
				target := due
				if !businesshours.IsBusinessHours(target) {
					target = businesshours.NextAllowedUKBusinessTime(target)
				}
				return w.queueRepo.Reschedule(ctx, tx, row.ID, target)
			}
		}
	}

	// Step 6: stuck-row GC.
	w.garbageCollectStuckRow(ctx, tx, row, contact, now)

	// Step 7: cooldown gate.
	domainRow, emailRow, err := w.senderStatsRepo.Get(ctx, row.SenderEmail)
	if err != nil {
		return err
	}
	allowed, expires := businesshours.CheckSenderCooldown(domainRow, emailRow, now)
	if !allowed {
		if !businesshours.IsBusinessHours(expires) {
			return w.queueRepo.Reschedule(ctx, tx, row.ID, businesshours.NextAllowedUKBusinessTime(expires))
		}
		return w.queueRepo.Reschedule(ctx, tx, row.ID, expires)
	}

	// Step 8: bounce gate.
	recipient := parseFirstAddress(row.RecipientEmail)
	bounced, err := w.bouncedRepo.IsBounced(ctx, recipient)
	if err != nil {
		return err
	}
	if bounced {
		return w.queueRepo.MarkFailed(ctx, tx, row.ID, "recipient address is on the bounced-email list")
	}

	// Step 9: send.
	if err := w.sendRow(ctx, tx, row, contact, recipient, now); err != nil {
		return w.handleSendFailure(ctx, tx, row, recipient, err)
	}
	return nil
}

func (w *QueueWorker) resolveCadenceAnchor(ctx context.Context, contact *domain.Contact, mt domain.MessageType) (time.Time, bool) {
	predecessor, ok := cadencePredecessor[mt]
	if !ok {
		return time.Time{}, false
	}

	if predRow, err := w.queueRepo.LatestSentByContactAndType(ctx, contact.ID, predecessor); err == nil && predRow != nil && predRow.SentAt != nil {
		return *predRow.SentAt, true
	}
	if msg, err := w.messageRepo.LatestSentByContact(ctx, contact.ID); err == nil && msg != nil {
		return msg.SentAt, true
	}
	if contact.LastTriggeredAt != nil {
		return *contact.LastTriggeredAt, true
	}
	return time.Time{}, false
}

func (w *QueueWorker) garbageCollectStuckRow(ctx context.Context, tx *sql.Tx, row *domain.QueueRow, contact *domain.Contact, now time.Time) {
	older, err := w.queueRepo.FindOlderStuckPending(ctx, tx, row.ContactID, row.LastMessageType, row.CreatedAt, stuckRowAge)
	if err != nil || older == nil {
		return
	}

	canGC := contact.HasCustomFlow()
	if !canGC {
		domainRow, emailRow, serr := w.senderStatsRepo.Get(ctx, row.SenderEmail)
		if serr == nil {
			allowed, _ := businesshours.CheckSenderCooldown(domainRow, emailRow, now)
			canGC = allowed
		}
	}
	if !canGC {
		return
	}
	if err := w.queueRepo.MarkFailed(ctx, tx, older.ID, "Message stuck in pending state"); err != nil {
		w.logger.WithField("row_id", older.ID).WithField("error", err.Error()).
			Warn("failed to garbage-collect stuck queue row")
	}
}

func (w *QueueWorker) sendRow(ctx context.Context, tx *sql.Tx, row *domain.QueueRow, contact *domain.Contact, recipient string, now time.Time) error {
	cc := ccRecipientsFor(row, contact)

	attachment, err := w.resolveAttachment(ctx, tx, row, contact)
	if err != nil {
		return err
	}

	body := composeOutgoingBody(row.Message, contact, row.SenderEmail)
	body = toCRLF(body)

	req := mailtransport.SendRequest{
		SenderEmail:  row.SenderEmail,
		ToRecipients: []string{recipient},
		CCRecipients: cc,
		Subject:      row.Subject,
		Body:         body,
		ContentType:  "TEXT",
		Attachment:   attachment,
	}
	if row.InReplyTo != nil {
		req.InReplyTo = *row.InReplyTo
	}
	if row.ConversationID != nil {
		req.ConversationID = *row.ConversationID
	}

	result, err := w.transport.Send(ctx, req)
	if err != nil {
		return err
	}

	return w.recordSend(ctx, tx, row, contact, result, now)
}

// resolveAttachment implements spec.md §4.3 step 9's attachment
// propagation: a payments-related row that arrives without one inherits the
// contact's attachment and persists it back onto the row so a later retry
// (or the Sent-Items-verification-failure path) doesn't lose it.
func (w *QueueWorker) resolveAttachment(ctx context.Context, tx *sql.Tx, row *domain.QueueRow, contact *domain.Contact) (*mailtransport.Attachment, error) {
	data := row.AttachmentData
	filename := derefString(row.AttachmentFilename)
	mimeType := derefString(row.AttachmentMimeType)

	if len(data) == 0 && isPaymentsRelated(row, contact) && len(contact.AttachmentData) > 0 {
		data = contact.AttachmentData
		filename = derefString(contact.AttachmentFilename)
		mimeType = derefString(contact.AttachmentMimeType)
		if err := w.queueRepo.PersistAttachment(ctx, tx, row.ID, data, filename, mimeType); err != nil {
			return nil, err
		}
	}

	if len(data) == 0 {
		return nil, nil
	}
	if filename == "" {
		filename = "attachment"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &mailtransport.Attachment{Filename: filename, MimeType: mimeType, Content: data}, nil
}

func isPaymentsRelated(row *domain.QueueRow, contact *domain.Contact) bool {
	return strings.HasPrefix(string(row.LastMessageType), "payments") || contact.Stage == domain.StagePayments
}

// recordSend implements spec.md §4.3 step 10. Message/Contact/SenderStats
// bookkeeping is deliberately not part of the row's own transaction tx: none
// of those repositories accept a shared *sql.Tx (they always operate
// directly on the pool), so true single-transaction atomicity across all
// four tables is out of reach without widening their interfaces. Accepted
// as a scope limitation: this bookkeeping commits on the pool before tx
// itself commits (after recordSend returns), so a crash or failed commit in
// between leaves the message, contact and sender-stats writes recorded
// while the row is still pending.
func (w *QueueWorker) recordSend(ctx context.Context, tx *sql.Tx, row *domain.QueueRow, contact *domain.Contact, result *mailtransport.SendResult, now time.Time) error {
	messageID, conversationID := "", ""
	if result != nil {
		messageID, conversationID = result.MessageID, result.ConversationID
	}

	if err := w.queueRepo.MarkSent(ctx, tx, row.ID, now, messageID, conversationID); err != nil {
		return err
	}
	metrics.RecordQueueSend(ctx)

	msg := &domain.Message{
		ProviderID: messageID,
		Direction:  domain.MessageDirectionSent,
		ContactID:  row.ContactID,
		Subject:    row.Subject,
		Body:       row.Message,
		SentAt:     now,
	}
	if conversationID != "" {
		msg.ConversationID = &conversationID
	}
	if err := w.messageRepo.Insert(ctx, msg); err != nil {
		w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
			Warn("failed to insert sent-message audit row")
	}
	if messageID != "" {
		if err := w.messageRepo.MapContact(ctx, messageID, row.ContactID); err != nil {
			w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
				Warn("failed to map sent message to contact")
		}
	}

	token, stageOverride := statusTokenForMessageType(row.LastMessageType)
	body := row.Message
	contact.LastSentBody = &body
	contact.LastSentAt = &now
	contact.Status = domain.Status(token)
	if stageOverride != nil {
		contact.Stage = *stageOverride
	}
	if err := w.contactRepo.Update(ctx, contact); err != nil {
		w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
			Warn("failed to update contact after send")
	}

	cooldown := randomizedCooldown()
	if err := w.senderStatsRepo.RecordSend(ctx, row.SenderEmail, now, cooldown); err != nil {
		w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
			Warn("failed to record sender-stats after send")
	}

	_ = w.contactRepo.AppendTrigger(ctx, row.ContactID, fmt.Sprintf("%s: sent %s to %s", now.Format(time.RFC3339), row.LastMessageType, row.RecipientEmail))

	return nil
}

// handleSendFailure implements spec.md §4.3 step 11: the row is marked
// failed and the error mirrored onto the contact; if the transport's error
// text matches the bounce heuristics of spec.md §4.5, the same bounce
// cascade the reply detector applies runs here too.
func (w *QueueWorker) handleSendFailure(ctx context.Context, tx *sql.Tx, row *domain.QueueRow, recipient string, sendErr error) error {
	reason := sendErr.Error()

	if err := w.queueRepo.MarkFailed(ctx, tx, row.ID, reason); err != nil {
		return err
	}

	if contact, err := w.contactRepo.Get(ctx, row.ContactID); err == nil {
		contact.EmailError = &reason
		now := time.Now().UTC()
		contact.LastErrorAt = &now
		if err := w.contactRepo.Update(ctx, contact); err != nil {
			w.logger.WithField("row_id", row.ID).WithField("error", err.Error()).
				Warn("failed to mirror send error onto contact")
		}
	}

	if isBounceEmail(reason, reason, "") {
		bounceType, bounceReason := classifyBounce(reason)
		at := time.Now().UTC()
		if err := w.bouncedRepo.Upsert(ctx, recipient, bounceType, bounceReason, at); err != nil {
			w.logger.WithField("recipient", recipient).WithField("error", err.Error()).
				Warn("failed to upsert bounced-email record from send failure")
		}
		if err := w.contactRepo.MarkBounced(ctx, recipient); err != nil {
			w.logger.WithField("recipient", recipient).WithField("error", err.Error()).
				Warn("failed to cascade bounce state to contacts")
		}
		if err := w.queueRepo.FailAllPendingForRecipient(ctx, tx, recipient); err != nil {
			w.logger.WithField("recipient", recipient).WithField("error", err.Error()).
				Warn("failed to fail pending rows for bounced recipient")
		}
	}

	return nil
}

// statusTokenForMessageType implements spec.md §6's canonical status-token
// table. campaign_main/reminder1/reminder2 map to the three legacy literal
// tokens; every other type maps to "<type>_sent"; custom-step-N collapses
// to "step-N_sent" and forces the contact's stage to 'custom'.
func statusTokenForMessageType(mt domain.MessageType) (token string, stageOverride *domain.Stage) {
	switch mt {
	case domain.MessageTypeCampaignMain:
		return "first_message_sent", nil
	case domain.MessageTypeReminder1:
		return "first_reminder", nil
	case domain.MessageTypeReminder2:
		return "second_reminder", nil
	}
	if n := strings.TrimPrefix(string(mt), "custom-step-"); n != string(mt) {
		custom := domain.StageCustom
		return "step-" + n + "_sent", &custom
	}
	return string(mt) + "_sent", nil
}

// composeOutgoingBody implements original_source/main.py's
// build_outgoing_body: the rendered body plus at most one quote block, the
// contact's latest reply taking precedence over our own latest sent message.
// The quoted text is run through templating.CleanEmailBody — the same
// HTML-stripping/entity-unescaping pass templating.GenerateQuotedBlock applies
// to thread history — since contact.LastReplyBody is the raw Graph body and
// would otherwise land in the outgoing message unstripped.
func composeOutgoingBody(newBody string, contact *domain.Contact, senderEmail string) string {
	var header, rawQuoted string
	switch {
	case contact.LastReplyBody != nil && *contact.LastReplyBody != "" && contact.LastReplyAt != nil:
		header = fmt.Sprintf("\nOn %s %s <%s> wrote:\n",
			contact.LastReplyAt.Format("Mon, Jan 2, 2006 at 3:04 PM"), contact.Name, contact.Email)
		rawQuoted = *contact.LastReplyBody
	case contact.LastSentBody != nil && *contact.LastSentBody != "" && contact.LastSentAt != nil:
		header = fmt.Sprintf("\nOn %s %s wrote:\n",
			contact.LastSentAt.Format("Mon, Jan 2, 2006 at 3:04 PM"), senderEmail)
		rawQuoted = *contact.LastSentBody
	default:
		return newBody
	}

	quotedBody := templating.CleanEmailBody(rawQuoted)
	if quotedBody == "" {
		return newBody
	}
	return newBody + "\n" + header + quotedBody
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func randomizedCooldown() time.Duration {
	span := int64(domain.RandomizedCooldownMax - domain.RandomizedCooldownMin)
	return domain.RandomizedCooldownMin + time.Duration(rand.Int63n(span+1))
}

// parseFirstAddress returns the first comma-separated address in s, trimmed
// and lowercased; row.RecipientEmail is normally a single address, but
// contact.Email may carry legacy comma-embedded extras.
func parseFirstAddress(s string) string {
	parts := parseAddressListString(s)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func parseAddressListString(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ccRecipientsFor implements spec.md §4.3 step 9's CC derivation: the row's
// own snapshot if set, else the legacy extras embedded after the primary
// address in the contact's email field. cc_store is never read here.
func ccRecipientsFor(row *domain.QueueRow, contact *domain.Contact) []string {
	if strings.TrimSpace(row.CCRecipients) != "" {
		return parseAddressListString(row.CCRecipients)
	}
	extras := parseAddressListString(contact.Email)
	if len(extras) <= 1 {
		return nil
	}
	return extras[1:]
}

func dbNow(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRowContext(ctx, "SELECT now()").Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}
