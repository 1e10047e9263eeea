package repository

import (
	"context"
	"database/sql"

	"github.com/lollxz/campaignctl/internal/domain"
)

// CustomFlowRepository implements domain.CustomFlowRepository over two
// tables: custom_flows (one active row per contact) and custom_flow_steps
// (its ordered steps).
type CustomFlowRepository struct {
	db *sql.DB
}

func NewCustomFlowRepository(db *sql.DB) domain.CustomFlowRepository {
	return &CustomFlowRepository{db: db}
}

func (r *CustomFlowRepository) GetActiveByContact(ctx context.Context, contactID string) (*domain.CustomFlow, error) {
	var flow domain.CustomFlow
	row := r.db.QueryRowContext(ctx, `
		SELECT id, contact_id, active
		FROM custom_flows
		WHERE contact_id = $1 AND active = TRUE
	`, contactID)

	if err := row.Scan(&flow.ID, &flow.ContactID, &flow.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT step_order, type, subject, body, delay_days
		FROM custom_flow_steps
		WHERE flow_id = $1
		ORDER BY step_order ASC
	`, flow.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.CustomFlowStep
		if err := rows.Scan(&step.StepOrder, &step.Type, &step.Subject, &step.Body, &step.DelayDays); err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &flow, nil
}
