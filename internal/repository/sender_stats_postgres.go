package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
)

// SenderStatsRepository implements domain.SenderStatsRepository over a
// single sender_stats table keyed by either "domain:<host>" or a raw email
// address, matching the key scheme spec.md §4.2 describes.
type SenderStatsRepository struct {
	db *sql.DB
}

func NewSenderStatsRepository(db *sql.DB) domain.SenderStatsRepository {
	return &SenderStatsRepository{db: db}
}

func (r *SenderStatsRepository) Get(ctx context.Context, senderEmail string) (domainRow, emailRow *domain.SenderStats, err error) {
	domainRow, err = r.getByKey(ctx, domainKeyFor(senderEmail))
	if err != nil {
		return nil, nil, fmt.Errorf("fetching domain-level sender stats: %w", err)
	}

	emailRow, err = r.getByKey(ctx, senderEmail)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching email-level sender stats: %w", err)
	}

	return domainRow, emailRow, nil
}

func (r *SenderStatsRepository) getByKey(ctx context.Context, key string) (*domain.SenderStats, error) {
	row := r.db.QueryRowContext(ctx, `SELECT key, last_sent, cooldown_seconds FROM sender_stats WHERE key = $1`, key)

	var s domain.SenderStats
	var cooldownSeconds int64
	err := row.Scan(&s.Key, &s.LastSent, &cooldownSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Cooldown = time.Duration(cooldownSeconds) * time.Second
	return &s, nil
}

func (r *SenderStatsRepository) RecordSend(ctx context.Context, senderEmail string, now time.Time, randomizedCooldown time.Duration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	domainKey := domainKeyFor(senderEmail)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sender_stats (key, last_sent, cooldown_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET last_sent = EXCLUDED.last_sent, cooldown_seconds = EXCLUDED.cooldown_seconds
	`, domainKey, now, int64(randomizedCooldown.Seconds())); err != nil {
		return fmt.Errorf("recording domain-level sender stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sender_stats (key, last_sent, cooldown_seconds)
		VALUES ($1, $2, 0)
		ON CONFLICT (key) DO UPDATE SET last_sent = EXCLUDED.last_sent
	`, senderEmail, now); err != nil {
		return fmt.Errorf("recording email-level sender stats: %w", err)
	}

	return tx.Commit()
}

// domainKeyFor builds the "domain:<host>" key spec.md §4.2 uses for the
// dominating, sender-host-wide cooldown row.
func domainKeyFor(senderEmail string) string {
	addr, err := mail.ParseAddress(senderEmail)
	host := senderEmail
	if err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 {
			host = addr.Address[at+1:]
		}
	} else if at := strings.LastIndex(senderEmail, "@"); at >= 0 {
		host = senderEmail[at+1:]
	}
	return "domain:" + strings.ToLower(host)
}
