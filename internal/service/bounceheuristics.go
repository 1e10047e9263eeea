package service

import (
	"regexp"
	"strings"

	"github.com/lollxz/campaignctl/internal/domain"
)

// bounceSubjectIndicators, bounceSenderIndicators and bounceBodyIndicators
// implement spec.md §4.5 step 2's bounce classification, grounded verbatim
// on original_source/main.py's is_bounce_email.
var (
	bounceSubjectIndicators = []string{
		"delivery status notification", "mail delivery failed", "delivery failure",
		"undelivered mail returned to sender", "message delivery failure", "returned mail",
		"mail system error", "delivery error", "postmaster@", "mailer-daemon@",
		"delivery report", "non-delivery report", "ndr", "bounce", "failure notice",
	}
	bounceSenderIndicators = []string{
		"postmaster@", "mailer-daemon@", "noreply@", "no-reply@", "bounce@", "bounces@", "delivery@",
	}
	bounceBodyIndicators = []string{
		"message could not be delivered", "delivery has failed", "recipient address rejected",
		"mailbox unavailable", "address not found", "user unknown", "mailbox full",
		"quota exceeded", "message rejected", "recipient not found", "smtp error",
		"550", "554", "permanent failure", "bounce message", "delivery failure",
	}
)

// isBounceEmail reports whether subject/body/sender match any bounce
// indicator set.
func isBounceEmail(subject, body, senderEmail string) bool {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)
	senderLower := strings.ToLower(senderEmail)

	for _, indicator := range bounceSubjectIndicators {
		if strings.Contains(subjectLower, indicator) {
			return true
		}
	}
	for _, indicator := range bounceSenderIndicators {
		if strings.Contains(senderLower, indicator) {
			return true
		}
	}
	for _, indicator := range bounceBodyIndicators {
		if strings.Contains(bodyLower, indicator) {
			return true
		}
	}
	return false
}

// bouncedAddressPatterns is the regex cascade of
// original_source/main.py's extract_bounced_email, tried in order; the
// first pattern to match wins.
var bouncedAddressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:original recipient|recipient address|failed recipient)[:\s]+([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
	regexp.MustCompile(`(?i)(?:delivery to the following recipient failed)[:\s]+([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
	regexp.MustCompile(`(?i)<([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})>`),
	regexp.MustCompile(`(?i)\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`),
}

// extractBouncedAddress returns the lowercased address the bounce message
// reports as undeliverable, or "" if none of the patterns match.
func extractBouncedAddress(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	for _, pattern := range bouncedAddressPatterns {
		if m := pattern.FindStringSubmatch(body); len(m) > 1 {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

// classifyBounce maps the bounce body to a (type, reason) pair, grounded on
// original_source/main.py's handle_bounce_email.
func classifyBounce(body string) (domain.BounceType, string) {
	bodyLower := strings.ToLower(body)
	switch {
	case strings.Contains(bodyLower, "mailbox full"), strings.Contains(bodyLower, "quota exceeded"):
		return domain.BounceTypeSoft, "Mailbox full"
	case strings.Contains(bodyLower, "temporary failure"):
		return domain.BounceTypeSoft, "Temporary delivery failure"
	case strings.Contains(bodyLower, "user unknown"), strings.Contains(bodyLower, "address not found"):
		return domain.BounceTypeHard, "Invalid email address"
	case strings.Contains(bodyLower, "mailbox unavailable"):
		return domain.BounceTypeHard, "Mailbox unavailable"
	default:
		return domain.BounceTypeHard, "Email delivery failed"
	}
}

