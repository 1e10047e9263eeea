package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
)

// BouncedEmailRepository implements domain.BouncedEmailRepository.
type BouncedEmailRepository struct {
	db *sql.DB
}

func NewBouncedEmailRepository(db *sql.DB) domain.BouncedEmailRepository {
	return &BouncedEmailRepository{db: db}
}

func (r *BouncedEmailRepository) Upsert(ctx context.Context, email string, bounceType domain.BounceType, reason string, at time.Time) error {
	email = strings.ToLower(email)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bounced_emails (email, first_bounced_at, last_bounced_at, bounce_count, bounce_type, bounce_reason)
		VALUES ($1, $2, $2, 1, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			last_bounced_at = EXCLUDED.last_bounced_at,
			bounce_count = bounced_emails.bounce_count + 1,
			bounce_type = EXCLUDED.bounce_type,
			bounce_reason = EXCLUDED.bounce_reason
	`, email, at, bounceType, reason)
	return err
}

func (r *BouncedEmailRepository) IsBounced(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM bounced_emails WHERE email = $1`, strings.ToLower(email)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
