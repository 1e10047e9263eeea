package repository

import (
	"context"
	"database/sql"

	"github.com/lollxz/campaignctl/internal/domain"
)

// CampaignEventRepository implements domain.CampaignEventRepository.
type CampaignEventRepository struct {
	db *sql.DB
}

func NewCampaignEventRepository(db *sql.DB) domain.CampaignEventRepository {
	return &CampaignEventRepository{db: db}
}

func (r *CampaignEventRepository) Get(ctx context.Context, id string) (*domain.CampaignEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, sender_email, org_name, city, venue, date2, month
		FROM campaign_events
		WHERE id = $1
	`, id)

	var e domain.CampaignEvent
	err := row.Scan(&e.ID, &e.SenderEmail, &e.OrgName, &e.City, &e.Venue, &e.Date2, &e.Month)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "campaign_event", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
