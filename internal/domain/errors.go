package domain

import (
	"fmt"
)

// Common error types
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found with ID: %s", e.Entity, e.ID)
}

// ErrQueueRowSend represents a failure to deliver a queue row, covering both
// transport-accept failures and Sent-Items verification failures
// (spec.md §7). It is never retried within a tick: the queue worker never
// auto-resends; a higher-level retry re-enqueues.
type ErrQueueRowSend struct {
	QueueRowID string
	Reason     string
	Err        error
}

func (e *ErrQueueRowSend) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed [%s]: %s - %v", e.QueueRowID, e.Reason, e.Err)
	}
	return fmt.Sprintf("send failed [%s]: %s", e.QueueRowID, e.Reason)
}

func (e *ErrQueueRowSend) Unwrap() error {
	return e.Err
}

// ErrTemplateRender covers both a missing template lookup and a strict-mode
// render failure (unresolved or empty variable) (spec.md §4.1, §7).
type ErrTemplateRender struct {
	ContactID   string
	TemplateKey string
	Reason      string
}

func (e *ErrTemplateRender) Error() string {
	return fmt.Sprintf("template render failed [contact=%s key=%s]: %s", e.ContactID, e.TemplateKey, e.Reason)
}

// ErrAdvisoryLockContended signals the caller should silently skip this tick
// (spec.md §7 "Advisory lock contention").
type ErrAdvisoryLockContended struct {
	LockKey string
}

func (e *ErrAdvisoryLockContended) Error() string {
	return fmt.Sprintf("advisory lock contended: %s", e.LockKey)
}

// ValidationError represents an error that occurs due to invalid input or parameters
type ValidationError struct {
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a new validation error with the given message
func NewValidationError(message string) error {
	return ValidationError{
		Message: message,
	}
}
