package templating

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// bodySeparators mark the start of a signature, previous-conversation quote,
// or footer; everything from the first match onward is discarded.
var bodySeparators = []string{
	"___",
	"Confidentiality Notice:",
	"From:",
	"-----Original Message-----",
	"Warm regards,",
}

var brTagPattern = regexp.MustCompile(`(?i)<br\s*/?>`)

// CleanEmailBody strips HTML, signatures and trailing quoted history from a
// raw message body, grounded on original_source/main.py's clean_email_body.
// The separator scan runs first, on the raw body; then <br> tags become
// newlines and remaining HTML tags are dropped via goquery.
func CleanEmailBody(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	for _, sep := range bodySeparators {
		if idx := strings.Index(body, sep); idx >= 0 {
			body = body[:idx]
		}
	}
	if idx := strings.Index(body, "PREVIOUS CONVERSATION HISTORY"); idx >= 0 {
		body = body[:idx]
	}

	body = brTagPattern.ReplaceAllString(body, "\n")
	body = stripHTMLTags(body)
	body = html.UnescapeString(body)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripHTMLTags(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// ThreadMessage is the minimal shape generate_quoted_block needs from a
// conversation entry — either a sent or a received message.
type ThreadMessage struct {
	Direction   string
	SenderEmail string
	Body        string
	Timestamp   time.Time
}

// GenerateQuotedBlock reconstructs the tail of a conversation as a quoted
// block: the latest unique message's cleaned body, with its predecessor (if
// any) rendered as a standard "On <date> <sender> wrote:" citation.
// Duplicate messages — same direction, sender, cleaned body, and minute —
// collapse to one, grounded on original_source/main.py's
// generate_quoted_block.
func GenerateQuotedBlock(messages []ThreadMessage) string {
	type signature struct {
		direction string
		sender    string
		body      string
		minute    int64
	}

	dedup := make(map[signature]quotedEntry)
	for _, m := range messages {
		cleaned := CleanEmailBody(m.Body)
		if cleaned == "" {
			continue
		}
		sig := signature{
			direction: m.Direction,
			sender:    normalizeEmailAddress(m.SenderEmail),
			body:      cleaned,
			minute:    m.Timestamp.Truncate(time.Minute).Unix(),
		}
		dedup[sig] = quotedEntry{msg: m, at: m.Timestamp}
	}
	if len(dedup) == 0 {
		return ""
	}

	unique := make([]quotedEntry, 0, len(dedup))
	for _, e := range dedup {
		unique = append(unique, e)
	}
	sortEntriesByTime(unique)

	latest := unique[len(unique)-1]
	latestBody := CleanEmailBody(latest.msg.Body)
	if len(unique) == 1 {
		return latestBody
	}

	parent := unique[len(unique)-2]
	dateStr := "a previous message"
	if !parent.at.IsZero() {
		dateStr = parent.at.Format("Mon, Jan 2, 2006 at 3:04 PM")
	}
	sender := parent.msg.SenderEmail
	if sender == "" {
		sender = "System"
	}

	quoteHeader := fmt.Sprintf("\nOn %s %s wrote:\n", dateStr, sender)
	quoteBody := CleanEmailBody(parent.msg.Body)

	return latestBody + "\n" + quoteHeader + quoteBody
}

// quotedEntry pairs a thread message with its sort timestamp for
// GenerateQuotedBlock's dedup-then-sort pass.
type quotedEntry struct {
	msg ThreadMessage
	at  time.Time
}

func sortEntriesByTime(entries []quotedEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].at.Before(entries[j-1].at); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func normalizeEmailAddress(email string) string {
	email = strings.TrimSpace(email)
	email = strings.Trim(email, "<> \t\r\n")
	if strings.Contains(email, "<") && strings.Contains(email, ">") {
		start := strings.Index(email, "<")
		end := strings.Index(email, ">")
		if end > start {
			email = strings.TrimSpace(email[start+1 : end])
		}
	}
	return strings.ToLower(email)
}
