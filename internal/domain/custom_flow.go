package domain

import (
	"context"
	"time"
)

// CustomFlowStep is one ordered step of an operator-defined flow
// (spec.md §3 "Custom Flow").
type CustomFlowStep struct {
	StepOrder int                `json:"step_order"` // 1-based
	Type      CustomFlowStepType `json:"type"`
	Subject   string             `json:"subject"`
	Body      string             `json:"body"`
	DelayDays int                `json:"delay_days"`
}

// CustomFlow is a per-contact ordered list of steps, pausable as a whole.
type CustomFlow struct {
	ID        string            `json:"id"`
	ContactID string            `json:"contact_id"`
	Active    bool              `json:"active"`
	Steps     []*CustomFlowStep `json:"steps"`
}

// NextStep returns the first step (in order) whose step_order exceeds the
// highest step_order already sent, or nil if the flow is exhausted.
func (f *CustomFlow) NextStep(highestSentStepOrder int) *CustomFlowStep {
	var next *CustomFlowStep
	for _, step := range f.Steps {
		if step.StepOrder <= highestSentStepOrder {
			continue
		}
		if next == nil || step.StepOrder < next.StepOrder {
			next = step
		}
	}
	return next
}

// DueAt computes the step's due time from the cadence anchor, forcing step 1
// to be due immediately regardless of its configured delay (spec.md §4.4
// custom-flow branch, and end-to-end scenario 5).
func (s *CustomFlowStep) DueAt(anchor time.Time) time.Time {
	if s.StepOrder == 1 {
		return anchor
	}
	return anchor.Add(time.Duration(s.DelayDays) * 24 * time.Hour)
}

// CustomFlowRepository is the Persistence Store surface for CustomFlow.
type CustomFlowRepository interface {
	GetActiveByContact(ctx context.Context, contactID string) (*CustomFlow, error)
}
