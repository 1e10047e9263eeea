package service

import (
	"context"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/advisorylock"
	"github.com/lollxz/campaignctl/pkg/businesshours"
)

// ProcessContactNow implements spec.md §4.6's immediate single-contact
// processor: invoked outside the 60-second decision-engine cycle after an
// operator action (resume campaign, custom-flow creation, stage change), it
// reuses the same decision/enqueue primitives as DecisionEngine's regular
// tick rather than duplicating them.
func (e *DecisionEngine) ProcessContactNow(ctx context.Context, contactID string) error {
	contact, err := e.contactRepo.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if !contact.IsEligibleForAutomation() {
		return nil
	}
	event, err := e.eventRepo.Get(ctx, contact.EventID)
	if err != nil {
		return err
	}

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

	stage := domain.NormalizeStage(string(contact.Stage))
	if prefix, ok := stagePrefixForAnchor[stage]; ok {
		priorSent, err := e.queueRepo.LatestSentByContactAndPrefix(ctx, contact.ID, prefix)
		if err != nil {
			return err
		}
		if priorSent == nil {
			initial := initialMessageTypeForStage[stage]
			scheduledAt := now
			if allowed := businesshours.NextAllowedUKBusinessTime(now); scheduledAt.Before(allowed) {
				scheduledAt = allowed
			}
			if err := e.sendCampaignMessage(ctx, tx, contact, event, initial, now, scheduledAt, "", ""); err != nil {
				return err
			}
		}
	}

	if contact.HasCustomFlow() {
		flow, err := e.customFlowRepo.GetActiveByContact(ctx, contact.ID)
		if err != nil {
			return err
		}
		if flow != nil && flow.Active {
			if step := flow.NextStep(0); step != nil && step.StepOrder == 1 {
				stepType := domain.MessageType("custom-step-1")
				scheduledAt := now
				if allowed := businesshours.NextAllowedUKBusinessTime(now); scheduledAt.Before(allowed) {
					scheduledAt = allowed
				}
				if err := e.sendCampaignMessage(ctx, tx, contact, event, stepType, now, scheduledAt, step.Subject, step.Body); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
