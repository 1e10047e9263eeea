package service

import (
	"testing"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsBounceEmail_SubjectIndicator(t *testing.T) {
	got := isBounceEmail("Mail Delivery Failed", "body text", "noreply@example.com")
	assert.True(t, got)
}

func TestIsBounceEmail_SenderIndicator(t *testing.T) {
	got := isBounceEmail("Hello", "body text", "MAILER-DAEMON@example.com")
	assert.True(t, got)
}

func TestIsBounceEmail_BodyIndicator(t *testing.T) {
	got := isBounceEmail("Hello", "Recipient address rejected: user unknown", "sender@example.com")
	assert.True(t, got)
}

func TestIsBounceEmail_NoIndicator(t *testing.T) {
	got := isBounceEmail("Re: Your invoice", "Thanks, see you there!", "ada@example.com")
	assert.False(t, got)
}

func TestExtractBouncedAddress_OriginalRecipientPattern(t *testing.T) {
	body := "Original Recipient: jane@example.com could not be reached."
	assert.Equal(t, "jane@example.com", extractBouncedAddress(body))
}

func TestExtractBouncedAddress_AngleBracketFallback(t *testing.T) {
	body := "Delivery failed for <bob@example.com> after 3 attempts."
	assert.Equal(t, "bob@example.com", extractBouncedAddress(body))
}

func TestExtractBouncedAddress_BareAddressFallback(t *testing.T) {
	body := "We could not deliver your message to sam@example.com."
	assert.Equal(t, "sam@example.com", extractBouncedAddress(body))
}

func TestExtractBouncedAddress_EmptyBody(t *testing.T) {
	assert.Equal(t, "", extractBouncedAddress("   "))
}

func TestExtractBouncedAddress_NoAddressFound(t *testing.T) {
	assert.Equal(t, "", extractBouncedAddress("This message has no email address in it at all."))
}

func TestClassifyBounce_MailboxFull(t *testing.T) {
	bounceType, reason := classifyBounce("Sorry, mailbox full right now.")
	assert.Equal(t, domain.BounceTypeSoft, bounceType)
	assert.Equal(t, "Mailbox full", reason)
}

func TestClassifyBounce_QuotaExceeded(t *testing.T) {
	bounceType, _ := classifyBounce("quota exceeded for this recipient")
	assert.Equal(t, domain.BounceTypeSoft, bounceType)
}

func TestClassifyBounce_TemporaryFailure(t *testing.T) {
	bounceType, reason := classifyBounce("temporary failure, please try later")
	assert.Equal(t, domain.BounceTypeSoft, bounceType)
	assert.Equal(t, "Temporary delivery failure", reason)
}

func TestClassifyBounce_UserUnknown(t *testing.T) {
	bounceType, reason := classifyBounce("550 user unknown")
	assert.Equal(t, domain.BounceTypeHard, bounceType)
	assert.Equal(t, "Invalid email address", reason)
}

func TestClassifyBounce_MailboxUnavailable(t *testing.T) {
	bounceType, reason := classifyBounce("mailbox unavailable")
	assert.Equal(t, domain.BounceTypeHard, bounceType)
	assert.Equal(t, "Mailbox unavailable", reason)
}

func TestClassifyBounce_DefaultFallsBackToHard(t *testing.T) {
	bounceType, reason := classifyBounce("something went wrong, no specific indicator")
	assert.Equal(t, domain.BounceTypeHard, bounceType)
	assert.Equal(t, "Email delivery failed", reason)
}
