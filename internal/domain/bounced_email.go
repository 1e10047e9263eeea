package domain

import (
	"context"
	"time"
)

// BouncedEmail is keyed by lowercased address (spec.md §3 "Bounced Email").
type BouncedEmail struct {
	Email          string     `json:"email"`
	FirstBouncedAt time.Time  `json:"first_bounced_at"`
	LastBouncedAt  time.Time  `json:"last_bounced_at"`
	BounceCount    int        `json:"bounce_count"`
	BounceType     BounceType `json:"bounce_type"`
	BounceReason   string     `json:"bounce_reason"`
}

// BouncedEmailRepository is the Persistence Store surface for BouncedEmail.
type BouncedEmailRepository interface {
	// Upsert increments bounce_count and refreshes last_bounced_at on
	// conflict (spec.md §4.5 step 2).
	Upsert(ctx context.Context, email string, bounceType BounceType, reason string, at time.Time) error

	IsBounced(ctx context.Context, email string) (bool, error)
}
