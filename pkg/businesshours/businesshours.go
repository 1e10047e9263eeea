// Package businesshours implements the UK 06:00-21:00 Europe/London send
// window and the per-sender cooldown check (spec.md §4.2), grounded on
// original_source/business_hours.py.
package businesshours

import (
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
)

const (
	windowStartHour = 6
	windowEndHour   = 21
)

// ukWeekendSkipToMonday mirrors a branch present in the source implementation
// that routes Saturday/Sunday reschedules to the following Monday. The
// BUSINESS_DAYS constant it guards against enumerates all seven weekdays, so
// every day is currently a business day and this branch never executes; it
// is kept (not deleted) because the spec's open question leaves it
// unresolved which behavior is intended, and it is reachable by flipping
// this constant without touching the surrounding algorithm.
const ukWeekendSkipToMonday = false

func londonLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		// Europe/London ships with every Go tzdata build; a missing
		// zoneinfo database is an environment defect, not a runtime one.
		panic("businesshours: Europe/London timezone data unavailable: " + err.Error())
	}
	return loc
}

// IsBusinessHours reports whether t, converted to Europe/London, falls
// within 06:00 (inclusive) to 21:00 (exclusive) local time. The constant set
// this checks against includes all seven days despite the package name —
// this is the current, adopted contract (spec.md §4.2).
func IsBusinessHours(t time.Time) bool {
	local := t.In(londonLocation())
	hour := local.Hour()
	return hour >= windowStartHour && hour < windowEndHour
}

// NextAllowedUKBusinessTime returns the earliest UTC timestamp >= t that
// satisfies IsBusinessHours.
func NextAllowedUKBusinessTime(t time.Time) time.Time {
	loc := londonLocation()
	local := t.In(loc)

	isWeekend := local.Weekday() == time.Saturday || local.Weekday() == time.Sunday
	if ukWeekendSkipToMonday && isWeekend {
		daysUntilMonday := (8 - int(local.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 1
		}
		next := atHour(local.AddDate(0, 0, daysUntilMonday), windowStartHour)
		return next.UTC()
	}

	hour := local.Hour()
	switch {
	case hour < windowStartHour:
		return atHour(local, windowStartHour).UTC()
	case hour < windowEndHour:
		return t.UTC()
	default:
		return atHour(local.AddDate(0, 0, 1), windowStartHour).UTC()
	}
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

// CheckSenderCooldown reports whether enough time has elapsed since the
// sender's (or its domain's) last send for a new one to proceed, applying
// the clamp of spec.md §4.2. The domain-level row dominates the per-email
// row when both exist.
func CheckSenderCooldown(domainRow, emailRow *domain.SenderStats, now time.Time) (allowed bool, cooldownExpires time.Time) {
	row := emailRow
	if domainRow != nil {
		row = domainRow
	}
	if row == nil {
		return true, now
	}
	cooldown := domain.ClampCooldown(row.Cooldown)
	expires := row.LastSent.Add(cooldown)
	return !now.Before(expires), expires
}
