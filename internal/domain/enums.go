package domain

import "strings"

// Stage is the macro-phase a contact is in.
type Stage string

const (
	StageInitial      Stage = "initial"
	StageForms        Stage = "forms"
	StagePayments     Stage = "payments"
	StageSepa         Stage = "sepa"
	StageRH           Stage = "rh"
	StageCustom       Stage = "custom"
	StageCompleted    Stage = "completed"
	StageCancelled    Stage = "cancelled"
	StageMailDelivery Stage = "mail delivery"
	StageWrongPerson  Stage = "wrong person"
)

// terminalStages are stages the decision engine and queue worker treat as closed.
var terminalStages = map[Stage]bool{
	StageCompleted: true,
	StageCancelled: true,
}

// IsTerminal reports whether the stage excludes the contact from automated processing.
func (s Stage) IsTerminal() bool {
	return terminalStages[s]
}

// normalizedStagePrefixes lists the stage substrings the decision engine looks
// for in a (possibly legacy, free-text) stage value, in the order they are tried.
// Grounded on spec.md 4.4's "normalise stage" step.
var normalizedStagePrefixes = []struct {
	substr string
	stage  Stage
}{
	{"rh", StageRH},
	{"payments", StagePayments},
	{"payment", StagePayments},
	{"sepa", StageSepa},
	{"forms", StageForms},
}

// NormalizeStage maps a free-text stage value to one of the five cadence stages,
// by substring match on the lowercased value. Returns StageInitial if nothing matches.
func NormalizeStage(raw string) Stage {
	lower := strings.ToLower(raw)
	for _, candidate := range normalizedStagePrefixes {
		if strings.Contains(lower, candidate.substr) {
			return candidate.stage
		}
	}
	return StageInitial
}

// Status is a stage-qualified marker of the most recent successful send,
// or an operator/reply-set terminal value.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReplied  Status = "Replied"
	StatusOOO      Status = "ooo"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"

	StatusFirstMessageSent Status = "first_message_sent"
	StatusFirstReminder    Status = "first_reminder"
	StatusSecondReminder   Status = "second_reminder"
)

// IsTerminal reports whether the status excludes the contact from automated processing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReplied, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// MessageType is the canonical token identifying which specific message to
// emit next within a stage. Legacy aliases are normalized at the read boundary
// by NormalizeMessageType; only canonical values are ever written.
type MessageType string

const (
	MessageTypeCampaignMain MessageType = "campaign_main"
	MessageTypeReminder1    MessageType = "reminder1"
	MessageTypeReminder2    MessageType = "reminder2"

	MessageTypeFormsInitial    MessageType = "forms_initial"
	MessageTypeFormsReminder1  MessageType = "forms_reminder1"
	MessageTypeFormsReminder2  MessageType = "forms_reminder2"
	MessageTypeFormsReminder3  MessageType = "forms_reminder3"

	MessageTypePaymentsInitial   MessageType = "payments_initial"
	MessageTypePaymentsReminder1 MessageType = "payments_reminder1"
	MessageTypePaymentsReminder2 MessageType = "payments_reminder2"
	MessageTypePaymentsReminder3 MessageType = "payments_reminder3"
	MessageTypePaymentsReminder4 MessageType = "payments_reminder4"
	MessageTypePaymentsReminder5 MessageType = "payments_reminder5"
	MessageTypePaymentsReminder6 MessageType = "payments_reminder6"

	MessageTypeSepaInitial   MessageType = "sepa_initial"
	MessageTypeSepaReminder1 MessageType = "sepa_reminder1"
	MessageTypeSepaReminder2 MessageType = "sepa_reminder2"
	MessageTypeSepaReminder3 MessageType = "sepa_reminder3"

	MessageTypeRHInitial   MessageType = "rh_initial"
	MessageTypeRHReminder1 MessageType = "rh_reminder1"
	MessageTypeRHReminder2 MessageType = "rh_reminder2"
	MessageTypeRHReminder3 MessageType = "rh_reminder3"

	MessageTypeError MessageType = "error"
)

// legacyMessageTypeAliases maps old written values to their canonical replacement.
// Never written, only recognized on read (spec.md §6).
var legacyMessageTypeAliases = map[string]MessageType{
	"forms_main":   MessageTypeFormsInitial,
	"payment_main": MessageTypePaymentsInitial,
}

// NormalizeMessageType resolves legacy aliases to their canonical token.
// Custom-flow steps (custom-step-N) and any value with no alias pass through unchanged.
func NormalizeMessageType(raw string) MessageType {
	if canonical, ok := legacyMessageTypeAliases[raw]; ok {
		return canonical
	}
	return MessageType(raw)
}

// IsReminderToken reports whether a stage string (as stored on the contact,
// which can alias reminder_type when unset) looks like a reminder token.
func IsReminderToken(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "reminder")
}

// QueueRowStatus is the lifecycle status of a queue row.
type QueueRowStatus string

const (
	QueueRowStatusPending QueueRowStatus = "pending"
	QueueRowStatusSent    QueueRowStatus = "sent"
	QueueRowStatusFailed  QueueRowStatus = "failed"
	QueueRowStatusSkipped QueueRowStatus = "skipped"
)

// BounceType classifies a bounce as hard (permanent) or soft (transient).
type BounceType string

const (
	BounceTypeHard BounceType = "hard"
	BounceTypeSoft BounceType = "soft"
)

// CustomFlowStepType is the kind of action a custom-flow step performs.
type CustomFlowStepType string

const (
	CustomFlowStepEmail        CustomFlowStepType = "email"
	CustomFlowStepTask         CustomFlowStepType = "task"
	CustomFlowStepNotification CustomFlowStepType = "notification"
)

// MessageDirection distinguishes outbound sends from inbound captures in the
// Message audit trail.
type MessageDirection string

const (
	MessageDirectionSent     MessageDirection = "sent"
	MessageDirectionReceived MessageDirection = "received"
)
