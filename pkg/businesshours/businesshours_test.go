package businesshours

import (
	"testing"
	"time"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/stretchr/testify/assert"
)

func mustLondon(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	assert.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func TestIsBusinessHours(t *testing.T) {
	// Monday 10:00 UK - within window
	assert.True(t, IsBusinessHours(mustLondon(t, 2024, time.January, 1, 10, 0)))
	// Monday 20:59:59 UK - proceeds (boundary)
	assert.True(t, IsBusinessHours(mustLondon(t, 2024, time.January, 1, 20, 59)))
	// Monday 21:00 UK - reschedules
	assert.False(t, IsBusinessHours(mustLondon(t, 2024, time.January, 1, 21, 0)))
	// Monday 05:59 UK - before window
	assert.False(t, IsBusinessHours(mustLondon(t, 2024, time.January, 1, 5, 59)))
	// Saturday within hours - currently treated as business hours
	assert.True(t, IsBusinessHours(mustLondon(t, 2024, time.January, 6, 12, 0)))
}

func TestNextAllowedUKBusinessTime_WithinWindow(t *testing.T) {
	in := mustLondon(t, 2024, time.January, 1, 12, 0)
	got := NextAllowedUKBusinessTime(in)
	assert.WithinDuration(t, in.UTC(), got, time.Second)
}

func TestNextAllowedUKBusinessTime_BeforeWindow(t *testing.T) {
	in := mustLondon(t, 2024, time.January, 1, 5, 59)
	got := NextAllowedUKBusinessTime(in)
	want := mustLondon(t, 2024, time.January, 1, 6, 0).UTC()
	assert.Equal(t, want, got)
}

func TestNextAllowedUKBusinessTime_AfterWindow(t *testing.T) {
	in := mustLondon(t, 2024, time.January, 1, 21, 0)
	got := NextAllowedUKBusinessTime(in)
	want := mustLondon(t, 2024, time.January, 2, 6, 0).UTC()
	assert.Equal(t, want, got)
}

func TestNextAllowedUKBusinessTime_Weekend(t *testing.T) {
	// Saturday Jan 6 2024, 21:00 UK. With the dead weekend-skip branch
	// disabled, this behaves like any other day: next day 06:00.
	in := mustLondon(t, 2024, time.January, 6, 21, 0)
	got := NextAllowedUKBusinessTime(in)
	want := mustLondon(t, 2024, time.January, 7, 6, 0).UTC()
	assert.Equal(t, want, got)
}

func TestCheckSenderCooldown_DomainDominates(t *testing.T) {
	now := time.Now().UTC()
	domainRow := &domain.SenderStats{Key: "domain:example.com", LastSent: now.Add(-10 * time.Second), Cooldown: 90 * time.Second}
	emailRow := &domain.SenderStats{Key: "sender@example.com", LastSent: now.Add(-200 * time.Second), Cooldown: 30 * time.Second}

	allowed, expires := CheckSenderCooldown(domainRow, emailRow, now)
	assert.False(t, allowed)
	assert.WithinDuration(t, domainRow.LastSent.Add(90*time.Second), expires, time.Second)
}

func TestCheckSenderCooldown_NoRows(t *testing.T) {
	allowed, _ := CheckSenderCooldown(nil, nil, time.Now())
	assert.True(t, allowed)
}

func TestCheckSenderCooldown_ClampsDefault(t *testing.T) {
	now := time.Now().UTC()
	domainRow := &domain.SenderStats{Key: "domain:example.com", LastSent: now.Add(-91 * time.Second), Cooldown: 0}
	allowed, _ := CheckSenderCooldown(domainRow, nil, now)
	assert.True(t, allowed) // default 90s cooldown, 91s elapsed
}
