package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/advisorylock"
	"github.com/lollxz/campaignctl/pkg/businesshours"
	"github.com/lollxz/campaignctl/pkg/logger"
	"github.com/lollxz/campaignctl/pkg/metrics"
)

const decisionEngineLockKey = "campaignctl:decision_engine"

// cadenceNext maps each stage's current message type to the next one in its
// chain, the mirror image of queueworker.go's cadencePredecessor except that
// sepa_reminder3 and rh_reminder3 both continue into payments_reminder4 (whose
// predecessor there stays payments_reminder3). Built by hand rather than by
// inverting that map at init time, so a misprint here is caught by review
// rather than silently propagating through both directions.
var cadenceNext = map[domain.MessageType]domain.MessageType{
	domain.MessageTypeCampaignMain: domain.MessageTypeReminder1,
	domain.MessageTypeReminder1:    domain.MessageTypeReminder2,

	domain.MessageTypeFormsInitial:   domain.MessageTypeFormsReminder1,
	domain.MessageTypeFormsReminder1: domain.MessageTypeFormsReminder2,
	domain.MessageTypeFormsReminder2: domain.MessageTypeFormsReminder3,

	domain.MessageTypePaymentsInitial:   domain.MessageTypePaymentsReminder1,
	domain.MessageTypePaymentsReminder1: domain.MessageTypePaymentsReminder2,
	domain.MessageTypePaymentsReminder2: domain.MessageTypePaymentsReminder3,
	domain.MessageTypePaymentsReminder3: domain.MessageTypePaymentsReminder4,
	domain.MessageTypePaymentsReminder4: domain.MessageTypePaymentsReminder5,
	domain.MessageTypePaymentsReminder5: domain.MessageTypePaymentsReminder6,

	domain.MessageTypeSepaInitial:   domain.MessageTypeSepaReminder1,
	domain.MessageTypeSepaReminder1: domain.MessageTypeSepaReminder2,
	domain.MessageTypeSepaReminder2: domain.MessageTypeSepaReminder3,
	domain.MessageTypeSepaReminder3: domain.MessageTypePaymentsReminder4,

	domain.MessageTypeRHInitial:   domain.MessageTypeRHReminder1,
	domain.MessageTypeRHReminder1: domain.MessageTypeRHReminder2,
	domain.MessageTypeRHReminder2: domain.MessageTypeRHReminder3,
	domain.MessageTypeRHReminder3: domain.MessageTypePaymentsReminder4,
}

// initialMessageTypeForStage maps a normalized stage to the message type sent
// when the contact has no last_message_type yet (spec.md §4.4 table, the
// "none" rows).
var initialMessageTypeForStage = map[domain.Stage]domain.MessageType{
	domain.StageForms:    domain.MessageTypeFormsInitial,
	domain.StagePayments: domain.MessageTypePaymentsInitial,
	domain.StageSepa:     domain.MessageTypeSepaInitial,
	domain.StageRH:       domain.MessageTypeRHInitial,
	domain.StageInitial:  domain.MessageTypeCampaignMain,
}

// stagePrefixForAnchor maps a normalized stage to the last_message_type
// prefix used by LatestSentByContactAndPrefix. StageInitial has no shared
// prefix across campaign_main/reminder1/reminder2, so it is intentionally
// absent here; callers skip straight to the next anchor source.
var stagePrefixForAnchor = map[domain.Stage]string{
	domain.StageForms:    "forms",
	domain.StagePayments: "payments",
	domain.StageSepa:     "sepa",
	domain.StageRH:       "rh",
}

// recentResumeWindow is the grace period after an operator resumes a
// contact during which the decision engine defers to the immediate
// single-contact processor (spec.md §4.4 "recent-resume guard").
const recentResumeWindow = 5 * time.Minute

// DecisionEngine is the Campaign Decision Engine of spec.md §4.4: a
// singleton, advisory-locked worker that walks every active contact once a
// tick and enqueues the next due message in its cadence. Loop shape grounded
// on the same automation_scheduler.go pattern as QueueWorker.
type DecisionEngine struct {
	db *sql.DB

	logger         logger.Logger
	contactRepo    domain.ContactRepository
	eventRepo      domain.CampaignEventRepository
	customFlowRepo domain.CustomFlowRepository
	queueRepo      domain.QueueRowRepository
	messageRepo    domain.MessageRepository
	resolver       *TemplateResolver

	interval time.Duration

	stopChan    chan struct{}
	stoppedChan chan struct{}
	mu          sync.Mutex
	running     bool
	lock        *advisorylock.SessionLock
}

func NewDecisionEngine(
	db *sql.DB,
	log logger.Logger,
	contactRepo domain.ContactRepository,
	eventRepo domain.CampaignEventRepository,
	customFlowRepo domain.CustomFlowRepository,
	queueRepo domain.QueueRowRepository,
	messageRepo domain.MessageRepository,
	resolver *TemplateResolver,
	interval time.Duration,
) *DecisionEngine {
	return &DecisionEngine{
		db:             db,
		logger:         log,
		contactRepo:    contactRepo,
		eventRepo:      eventRepo,
		customFlowRepo: customFlowRepo,
		queueRepo:      queueRepo,
		messageRepo:    messageRepo,
		resolver:       resolver,
		interval:       interval,
		stopChan:       make(chan struct{}),
		stoppedChan:    make(chan struct{}),
	}
}

func (e *DecisionEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	lock, acquired, err := advisorylock.NewSessionLock(ctx, e.db, decisionEngineLockKey)
	if err != nil {
		return fmt.Errorf("acquiring decision engine singleton lock: %w", err)
	}
	if !acquired {
		e.logger.Info("decision engine already running elsewhere, skipping start")
		return nil
	}

	e.lock = lock
	e.running = true
	go e.run(ctx)
	return nil
}

func (e *DecisionEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	select {
	case <-e.stoppedChan:
	case <-time.After(5 * time.Second):
		e.logger.Warn("decision engine stop timed out waiting for run loop")
	}

	if e.lock != nil {
		if err := e.lock.Release(context.Background()); err != nil {
			e.logger.WithField("error", err.Error()).Error("releasing decision engine advisory lock")
		}
	}
}

func (e *DecisionEngine) run(ctx context.Context) {
	defer close(e.stoppedChan)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.processTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.processTick(ctx)
		}
	}
}

func (e *DecisionEngine) processTick(ctx context.Context) {
	contacts, err := e.contactRepo.ListActiveForDecisionEngine(ctx)
	if err != nil {
		e.logger.WithField("error", err.Error()).Error("listing active contacts for decision engine")
		return
	}

	for _, contact := range contacts {
		if err := e.processContact(ctx, contact); err != nil {
			e.logger.WithField("contact_id", contact.ID).WithField("error", err.Error()).
				Error("processing contact in decision engine")
		}
	}
}

// processContact implements spec.md §4.4's per-contact transaction, guarded
// by a per-contact advisory lock so two overlapping ticks (or an immediate
// single-contact processor run) never race on the same contact.
func (e *DecisionEngine) processContact(ctx context.Context, contact *domain.Contact) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	acquired, err := advisorylock.TryTxLock(ctx, tx, "campaignctl:contact:"+contact.ID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}

	now := time.Now().UTC()
	if dbNowVal, err := dbNow(ctx, tx); err == nil {
		now = dbNowVal
	}

	if contact.LastMessageType == nil && contact.LastTriggeredAt != nil &&
		now.Sub(*contact.LastTriggeredAt) < recentResumeWindow {
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}

	event, err := e.eventRepo.Get(ctx, contact.EventID)
	if err != nil {
		return err
	}

	if contact.HasCustomFlow() {
		if err := e.processCustomFlow(ctx, tx, contact, event, now); err != nil {
			return err
		}
	} else {
		if err := e.processDefaultCadence(ctx, tx, contact, event, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// processCustomFlow implements spec.md §4.4's custom-flow branch.
func (e *DecisionEngine) processCustomFlow(ctx context.Context, tx *sql.Tx, contact *domain.Contact, event *domain.CampaignEvent, now time.Time) error {
	flow, err := e.customFlowRepo.GetActiveByContact(ctx, contact.ID)
	if err != nil {
		return err
	}
	if flow == nil || !flow.Active {
		return nil
	}

	highestSent, err := e.highestSentCustomStep(ctx, contact.ID, flow)
	if err != nil {
		return err
	}

	next := flow.NextStep(highestSent)
	if next == nil {
		contact.Status = "custom-complete"
		contact.LastTriggeredAt = &now
		return e.contactRepo.Update(ctx, contact)
	}

	stepType := domain.MessageType(fmt.Sprintf("custom-step-%d", next.StepOrder))

	active, err := e.queueRepo.CountActiveByContactAndType(ctx, contact.ID, stepType,
		[]domain.QueueRowStatus{domain.QueueRowStatusPending, domain.QueueRowStatusSent})
	if err != nil {
		return err
	}
	if active > 0 {
		// Already queued or sent; nothing to do this tick.
		return nil
	}

	anchor, err := e.customFlowAnchor(ctx, contact, now)
	if err != nil {
		return err
	}
	due := next.DueAt(anchor)
	if now.Before(due) {
		return nil
	}

	if next.Type != domain.CustomFlowStepEmail {
		contact.Status = domain.Status(fmt.Sprintf("step-%d", next.StepOrder))
		contact.LastTriggeredAt = &now
		return e.contactRepo.Update(ctx, contact)
	}

	scheduledAt := due
	if allowed := businesshours.NextAllowedUKBusinessTime(now); scheduledAt.Before(allowed) {
		scheduledAt = allowed
	}

	return e.sendCampaignMessage(ctx, tx, contact, event, stepType, due, scheduledAt, next.Subject, next.Body)
}

// highestSentCustomStep finds the highest step_order among this flow's steps
// confirmed sent via the queue, the cadence-anchor resolution the rest of
// the engine uses (queue first, never trusting contact fields alone).
func (e *DecisionEngine) highestSentCustomStep(ctx context.Context, contactID string, flow *domain.CustomFlow) (int, error) {
	highest := 0
	for _, step := range flow.Steps {
		mt := domain.MessageType(fmt.Sprintf("custom-step-%d", step.StepOrder))
		sent, err := e.queueRepo.LatestSentByContactAndType(ctx, contactID, mt)
		if err != nil {
			return 0, err
		}
		if sent != nil && step.StepOrder > highest {
			highest = step.StepOrder
		}
	}
	return highest, nil
}

// customFlowAnchor implements spec.md §4.4's anchor priority for custom
// flows: most recent sent_at from queue, else messages, else
// last_triggered_at, else now.
func (e *DecisionEngine) customFlowAnchor(ctx context.Context, contact *domain.Contact, now time.Time) (time.Time, error) {
	if row, err := e.queueRepo.LatestSentByContactAndPrefix(ctx, contact.ID, "custom-step-"); err == nil && row != nil && row.SentAt != nil {
		return *row.SentAt, nil
	}
	if msg, err := e.messageRepo.LatestSentByContact(ctx, contact.ID); err == nil && msg != nil {
		return msg.SentAt, nil
	}
	if contact.LastTriggeredAt != nil {
		return *contact.LastTriggeredAt, nil
	}
	return now, nil
}

// processDefaultCadence implements spec.md §4.4's default branch: normalize
// stage, resolve the cadence anchor, call determineNextAction, and enqueue.
func (e *DecisionEngine) processDefaultCadence(ctx context.Context, tx *sql.Tx, contact *domain.Contact, event *domain.CampaignEvent, now time.Time) error {
	if contact.Status == domain.StatusReplied {
		return nil
	}

	stage := domain.NormalizeStage(string(contact.Stage))

	next, gateAnchor, ok, err := e.determineNextAction(ctx, contact, stage, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	due := gateAnchor
	scheduledAt := due
	if adjusted := businesshours.NextAllowedUKBusinessTime(now); scheduledAt.Before(adjusted) {
		scheduledAt = adjusted
	}

	return e.sendCampaignMessage(ctx, tx, contact, event, next, due, scheduledAt, "", "")
}

// determineNextAction is the pure decision function of spec.md §4.4's table,
// reusing domain.CadenceGate (the same gate table the queue worker
// re-verifies against) so the two workers never disagree on timing. Returns
// the candidate message type, the time it becomes due, and whether any
// action applies at all.
func (e *DecisionEngine) determineNextAction(ctx context.Context, contact *domain.Contact, stage domain.Stage, now time.Time) (domain.MessageType, time.Time, bool, error) {
	if contact.LastMessageType == nil {
		mt, ok := initialMessageTypeForStage[stage]
		if !ok {
			return "", time.Time{}, false, nil
		}
		return mt, now, true, nil
	}

	mt := domain.NormalizeMessageType(string(*contact.LastMessageType))

	if mt == domain.MessageTypeError {
		// The original failing message_type isn't recoverable once
		// overwritten to 'error' (spec.md §7); retrying from the stage's
		// own initial message is the closest faithful recovery without a
		// dedicated failed-type history.
		candidate, ok := initialMessageTypeForStage[stage]
		if !ok {
			return "", time.Time{}, false, nil
		}
		anchor := now
		if contact.LastErrorAt != nil {
			anchor = *contact.LastErrorAt
		} else if contact.LastTriggeredAt != nil {
			anchor = *contact.LastTriggeredAt
		}
		due := anchor.Add(domain.ErrorRetryGate)
		if now.Before(due) {
			return "", time.Time{}, false, nil
		}
		return candidate, due, true, nil
	}

	next, hasNext := cadenceNext[mt]
	if !hasNext {
		return "", time.Time{}, false, nil
	}

	// Critical rule: the predecessor must be confirmed sent via the queue,
	// not merely recorded on the contact (spec.md §4.4).
	sentRow, err := e.queueRepo.LatestSentByContactAndType(ctx, contact.ID, mt)
	if err != nil {
		return "", time.Time{}, false, err
	}
	if sentRow == nil {
		return "", time.Time{}, false, nil
	}

	gate := domain.CadenceGate[next]
	anchor, err := e.cadenceAnchor(ctx, contact, stage, sentRow, now)
	if err != nil {
		return "", time.Time{}, false, err
	}

	due := anchor.Add(gate)
	if now.Before(due) {
		return "", time.Time{}, false, nil
	}
	return next, due, true, nil
}

// cadenceAnchor implements spec.md §4.4's time_since_last priority: the
// confirmed-sent row's own sent_at first (it is already in hand from
// determineNextAction's predecessor check), else the latest sent row whose
// type carries the stage's prefix, else contact.last_triggered_at, else the
// messages fallback, else now.
func (e *DecisionEngine) cadenceAnchor(ctx context.Context, contact *domain.Contact, stage domain.Stage, sentRow *domain.QueueRow, now time.Time) (time.Time, error) {
	if sentRow != nil && sentRow.SentAt != nil {
		return *sentRow.SentAt, nil
	}
	if prefix, ok := stagePrefixForAnchor[stage]; ok {
		if row, err := e.queueRepo.LatestSentByContactAndPrefix(ctx, contact.ID, prefix); err == nil && row != nil && row.SentAt != nil {
			return *row.SentAt, nil
		}
	}
	if contact.LastTriggeredAt != nil {
		return *contact.LastTriggeredAt, nil
	}
	if msg, err := e.messageRepo.LatestSentByContact(ctx, contact.ID); err == nil && msg != nil {
		return msg.SentAt, nil
	}
	return now, nil
}

// sendCampaignMessage implements spec.md §4.4's enqueue step. overrideSubject
// and overrideBody, when either is non-empty, are rendered against the
// contact's template variables instead of looking up the static template
// table — the custom-flow branch's steps carry their own operator-authored
// subject/body.
func (e *DecisionEngine) sendCampaignMessage(ctx context.Context, tx *sql.Tx, contact *domain.Contact, event *domain.CampaignEvent, mt domain.MessageType, dueAt, scheduledAt time.Time, overrideSubject, overrideBody string) error {
	recipient := parseFirstAddress(contact.Email)

	dup, err := e.queueRepo.ExistsActiveDuplicate(ctx, tx, contact.ID, mt, recipient, time.Time{}, "")
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	var subject, body string
	if overrideSubject != "" || overrideBody != "" {
		subject, body, err = e.resolver.RenderCustomStep(contact, event, overrideSubject, overrideBody)
	} else {
		subject, body, err = e.resolver.Resolve(ctx, contact, event, mt, contact.Stage)
	}
	if err != nil {
		errType := domain.MessageTypeError
		now := time.Now().UTC()
		errStr := err.Error()
		contact.LastMessageType = &errType
		contact.LastErrorAt = &now
		contact.EmailError = &errStr
		_ = e.contactRepo.Update(ctx, contact)
		_ = e.contactRepo.AppendTrigger(ctx, contact.ID,
			fmt.Sprintf("%s: template render failed for %s: %s", now.Format(time.RFC3339), mt, errStr))
		return nil
	}

	cc := ccSnapshotFor(contact)

	row := &domain.QueueRow{
		ContactID:       contact.ID,
		EventID:         event.ID,
		SenderEmail:     event.SenderEmail,
		RecipientEmail:  recipient,
		CCRecipients:    strings.Join(cc, ","),
		Subject:         subject,
		Message:         body,
		LastMessageType: mt,
		Status:          domain.QueueRowStatusPending,
		DueAt:           dueAt,
		ScheduledAt:     scheduledAt,
	}

	if isPaymentsRelated(row, contact) && len(contact.AttachmentData) > 0 {
		row.AttachmentData = contact.AttachmentData
		row.AttachmentFilename = contact.AttachmentFilename
		row.AttachmentMimeType = contact.AttachmentMimeType
	}

	if err := e.queueRepo.EnqueueTx(ctx, tx, row); err != nil {
		return err
	}
	metrics.RecordDecisionAction(ctx)

	now := time.Now().UTC()
	contact.LastMessageType = &mt
	contact.LastTriggeredAt = &now
	if err := e.contactRepo.Update(ctx, contact); err != nil {
		return err
	}
	return e.contactRepo.AppendTrigger(ctx, contact.ID,
		fmt.Sprintf("%s: enqueued %s for %s", now.Format(time.RFC3339), mt, recipient))
}

// ccSnapshotFor implements spec.md §4.4's enqueue-time CC snapshot: cc_store
// if present, else the legacy extras embedded in the contact's email field.
// Distinct from queueworker.go's ccRecipientsFor, which reads the row's own
// already-snapshotted value at send time.
func ccSnapshotFor(contact *domain.Contact) []string {
	if strings.TrimSpace(contact.CCStore) != "" {
		return parseAddressListString(contact.CCStore)
	}
	extras := parseAddressListString(contact.Email)
	if len(extras) <= 1 {
		return nil
	}
	return extras[1:]
}
