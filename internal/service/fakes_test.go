package service

// Hand-rolled fakes for the domain repository interfaces, used in place of
// generated gomock mocks: nothing in this module runs `go generate`, so each
// fake exposes a configurable function field per method, defaulting to a
// harmless zero-value return when the test doesn't care about that call.

import (
	"context"
	"database/sql"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
)

type fakeContactRepo struct {
	getFn                         func(ctx context.Context, id string) (*domain.Contact, error)
	getByEmailFn                  func(ctx context.Context, email string) ([]*domain.Contact, error)
	listActiveForDecisionEngineFn func(ctx context.Context) ([]*domain.Contact, error)
	listActiveGroupedBySenderFn   func(ctx context.Context) (map[string][]*domain.Contact, error)
	updateFn                      func(ctx context.Context, c *domain.Contact) error
	markBouncedFn                 func(ctx context.Context, email string) error
	markRepliedFn                 func(ctx context.Context, id string, replyBody string, repliedAt time.Time) error
	appendTriggerFn               func(ctx context.Context, id string, line string) error

	appendTriggerCalls []string
}

func (f *fakeContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, &domain.ErrNotFound{Entity: "contact", ID: id}
}

func (f *fakeContactRepo) GetByEmail(ctx context.Context, email string) ([]*domain.Contact, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return nil, nil
}

func (f *fakeContactRepo) ListActiveForDecisionEngine(ctx context.Context) ([]*domain.Contact, error) {
	if f.listActiveForDecisionEngineFn != nil {
		return f.listActiveForDecisionEngineFn(ctx)
	}
	return nil, nil
}

func (f *fakeContactRepo) ListActiveGroupedBySender(ctx context.Context) (map[string][]*domain.Contact, error) {
	if f.listActiveGroupedBySenderFn != nil {
		return f.listActiveGroupedBySenderFn(ctx)
	}
	return nil, nil
}

func (f *fakeContactRepo) Update(ctx context.Context, c *domain.Contact) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, c)
	}
	return nil
}

func (f *fakeContactRepo) MarkBounced(ctx context.Context, email string) error {
	if f.markBouncedFn != nil {
		return f.markBouncedFn(ctx, email)
	}
	return nil
}

func (f *fakeContactRepo) MarkReplied(ctx context.Context, id string, replyBody string, repliedAt time.Time) error {
	if f.markRepliedFn != nil {
		return f.markRepliedFn(ctx, id, replyBody, repliedAt)
	}
	return nil
}

func (f *fakeContactRepo) AppendTrigger(ctx context.Context, id string, line string) error {
	f.appendTriggerCalls = append(f.appendTriggerCalls, line)
	if f.appendTriggerFn != nil {
		return f.appendTriggerFn(ctx, id, line)
	}
	return nil
}

type fakeQueueRepo struct {
	enqueueFn                     func(ctx context.Context, row *domain.QueueRow) error
	enqueueTxFn                   func(ctx context.Context, tx *sql.Tx, row *domain.QueueRow) error
	fetchPendingFn                func(ctx context.Context, limit int) ([]*domain.QueueRow, error)
	withRowLockFn                 func(ctx context.Context, id string, fn func(tx *sql.Tx, row *domain.QueueRow) error) (bool, error)
	existsActiveDuplicateFn       func(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, recipient string, createdAfter time.Time, excludeRowID string) (bool, error)
	findOlderStuckPendingFn       func(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, newerThan time.Time, olderThanAge time.Duration) (*domain.QueueRow, error)
	markSentFn                    func(ctx context.Context, tx *sql.Tx, id string, sentAt time.Time, messageID, conversationID string) error
	markFailedFn                  func(ctx context.Context, tx *sql.Tx, id string, reason string) error
	markSkippedFn                 func(ctx context.Context, tx *sql.Tx, id string, reason string) error
	rescheduleFn                  func(ctx context.Context, tx *sql.Tx, id string, scheduledAt time.Time) error
	persistAttachmentFn           func(ctx context.Context, tx *sql.Tx, id string, data []byte, filename, mimeType string) error
	latestSentByContactAndPrefix  func(ctx context.Context, contactID, prefix string) (*domain.QueueRow, error)
	latestSentByContactAndTypeFn  func(ctx context.Context, contactID string, mt domain.MessageType) (*domain.QueueRow, error)
	countActiveByContactAndTypeFn func(ctx context.Context, contactID string, mt domain.MessageType, statuses []domain.QueueRowStatus) (int, error)
	failAllPendingForRecipientFn  func(ctx context.Context, tx *sql.Tx, recipient string) error

	markSkippedCalls   []string
	markFailedCalls    []string
	rescheduleCalls    []time.Time
	enqueueTxCalls     []*domain.QueueRow
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, row *domain.QueueRow) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, row)
	}
	return nil
}

func (f *fakeQueueRepo) EnqueueTx(ctx context.Context, tx *sql.Tx, row *domain.QueueRow) error {
	f.enqueueTxCalls = append(f.enqueueTxCalls, row)
	if f.enqueueTxFn != nil {
		return f.enqueueTxFn(ctx, tx, row)
	}
	return nil
}

func (f *fakeQueueRepo) FetchPending(ctx context.Context, limit int) ([]*domain.QueueRow, error) {
	if f.fetchPendingFn != nil {
		return f.fetchPendingFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeQueueRepo) WithRowLock(ctx context.Context, id string, fn func(tx *sql.Tx, row *domain.QueueRow) error) (bool, error) {
	if f.withRowLockFn != nil {
		return f.withRowLockFn(ctx, id, fn)
	}
	return false, nil
}

func (f *fakeQueueRepo) ExistsActiveDuplicate(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, recipient string, createdAfter time.Time, excludeRowID string) (bool, error) {
	if f.existsActiveDuplicateFn != nil {
		return f.existsActiveDuplicateFn(ctx, tx, contactID, mt, recipient, createdAfter, excludeRowID)
	}
	return false, nil
}

func (f *fakeQueueRepo) FindOlderStuckPending(ctx context.Context, tx *sql.Tx, contactID string, mt domain.MessageType, newerThan time.Time, olderThanAge time.Duration) (*domain.QueueRow, error) {
	if f.findOlderStuckPendingFn != nil {
		return f.findOlderStuckPendingFn(ctx, tx, contactID, mt, newerThan, olderThanAge)
	}
	return nil, nil
}

func (f *fakeQueueRepo) MarkSent(ctx context.Context, tx *sql.Tx, id string, sentAt time.Time, messageID, conversationID string) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, tx, id, sentAt, messageID, conversationID)
	}
	return nil
}

func (f *fakeQueueRepo) MarkFailed(ctx context.Context, tx *sql.Tx, id string, reason string) error {
	f.markFailedCalls = append(f.markFailedCalls, reason)
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, tx, id, reason)
	}
	return nil
}

func (f *fakeQueueRepo) MarkSkipped(ctx context.Context, tx *sql.Tx, id string, reason string) error {
	f.markSkippedCalls = append(f.markSkippedCalls, reason)
	if f.markSkippedFn != nil {
		return f.markSkippedFn(ctx, tx, id, reason)
	}
	return nil
}

func (f *fakeQueueRepo) Reschedule(ctx context.Context, tx *sql.Tx, id string, scheduledAt time.Time) error {
	f.rescheduleCalls = append(f.rescheduleCalls, scheduledAt)
	if f.rescheduleFn != nil {
		return f.rescheduleFn(ctx, tx, id, scheduledAt)
	}
	return nil
}

func (f *fakeQueueRepo) PersistAttachment(ctx context.Context, tx *sql.Tx, id string, data []byte, filename, mimeType string) error {
	if f.persistAttachmentFn != nil {
		return f.persistAttachmentFn(ctx, tx, id, data, filename, mimeType)
	}
	return nil
}

func (f *fakeQueueRepo) LatestSentByContactAndPrefix(ctx context.Context, contactID, prefix string) (*domain.QueueRow, error) {
	if f.latestSentByContactAndPrefix != nil {
		return f.latestSentByContactAndPrefix(ctx, contactID, prefix)
	}
	return nil, nil
}

func (f *fakeQueueRepo) LatestSentByContactAndType(ctx context.Context, contactID string, mt domain.MessageType) (*domain.QueueRow, error) {
	if f.latestSentByContactAndTypeFn != nil {
		return f.latestSentByContactAndTypeFn(ctx, contactID, mt)
	}
	return nil, nil
}

func (f *fakeQueueRepo) CountActiveByContactAndType(ctx context.Context, contactID string, mt domain.MessageType, statuses []domain.QueueRowStatus) (int, error) {
	if f.countActiveByContactAndTypeFn != nil {
		return f.countActiveByContactAndTypeFn(ctx, contactID, mt, statuses)
	}
	return 0, nil
}

func (f *fakeQueueRepo) FailAllPendingForRecipient(ctx context.Context, tx *sql.Tx, recipient string) error {
	if f.failAllPendingForRecipientFn != nil {
		return f.failAllPendingForRecipientFn(ctx, tx, recipient)
	}
	return nil
}

type fakeMessageRepo struct {
	insertFn                     func(ctx context.Context, m *domain.Message) error
	existsFn                     func(ctx context.Context, providerID string) (bool, error)
	mapContactFn                 func(ctx context.Context, providerID, contactID string) error
	resolveContactByMessageIDFn  func(ctx context.Context, providerID string) (string, bool, error)
	latestSentByContactFn        func(ctx context.Context, contactID string) (*domain.Message, error)

	insertedMessages []*domain.Message
}

func (f *fakeMessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	f.insertedMessages = append(f.insertedMessages, m)
	if f.insertFn != nil {
		return f.insertFn(ctx, m)
	}
	return nil
}

func (f *fakeMessageRepo) Exists(ctx context.Context, providerID string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, providerID)
	}
	return false, nil
}

func (f *fakeMessageRepo) MapContact(ctx context.Context, providerID, contactID string) error {
	if f.mapContactFn != nil {
		return f.mapContactFn(ctx, providerID, contactID)
	}
	return nil
}

func (f *fakeMessageRepo) ResolveContactByMessageID(ctx context.Context, providerID string) (string, bool, error) {
	if f.resolveContactByMessageIDFn != nil {
		return f.resolveContactByMessageIDFn(ctx, providerID)
	}
	return "", false, nil
}

func (f *fakeMessageRepo) LatestSentByContact(ctx context.Context, contactID string) (*domain.Message, error) {
	if f.latestSentByContactFn != nil {
		return f.latestSentByContactFn(ctx, contactID)
	}
	return nil, nil
}

type fakeEventRepo struct {
	getFn func(ctx context.Context, id string) (*domain.CampaignEvent, error)
}

func (f *fakeEventRepo) Get(ctx context.Context, id string) (*domain.CampaignEvent, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return &domain.CampaignEvent{ID: id, SenderEmail: "sender@example.com"}, nil
}

type fakeCustomFlowRepo struct {
	getActiveByContactFn func(ctx context.Context, contactID string) (*domain.CustomFlow, error)
}

func (f *fakeCustomFlowRepo) GetActiveByContact(ctx context.Context, contactID string) (*domain.CustomFlow, error) {
	if f.getActiveByContactFn != nil {
		return f.getActiveByContactFn(ctx, contactID)
	}
	return nil, nil
}

type fakeBouncedRepo struct {
	upsertFn    func(ctx context.Context, email string, bounceType domain.BounceType, reason string, at time.Time) error
	isBouncedFn func(ctx context.Context, email string) (bool, error)
}

func (f *fakeBouncedRepo) Upsert(ctx context.Context, email string, bounceType domain.BounceType, reason string, at time.Time) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, email, bounceType, reason, at)
	}
	return nil
}

func (f *fakeBouncedRepo) IsBounced(ctx context.Context, email string) (bool, error) {
	if f.isBouncedFn != nil {
		return f.isBouncedFn(ctx, email)
	}
	return false, nil
}

type fakeSenderStatsRepo struct {
	getFn        func(ctx context.Context, senderEmail string) (*domain.SenderStats, *domain.SenderStats, error)
	recordSendFn func(ctx context.Context, senderEmail string, now time.Time, randomizedCooldown time.Duration) error
}

func (f *fakeSenderStatsRepo) Get(ctx context.Context, senderEmail string) (*domain.SenderStats, *domain.SenderStats, error) {
	if f.getFn != nil {
		return f.getFn(ctx, senderEmail)
	}
	return nil, nil, nil
}

func (f *fakeSenderStatsRepo) RecordSend(ctx context.Context, senderEmail string, now time.Time, randomizedCooldown time.Duration) error {
	if f.recordSendFn != nil {
		return f.recordSendFn(ctx, senderEmail, now, randomizedCooldown)
	}
	return nil
}
