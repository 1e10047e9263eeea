package templating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanEmailBody_StripsSignatureAndHTML(t *testing.T) {
	body := "Hello there<br>How are you?\nWarm regards,\nJohn"
	got := CleanEmailBody(body)
	assert.Equal(t, "Hello there\nHow are you?", got)
}

func TestCleanEmailBody_StripsQuotedHistory(t *testing.T) {
	body := "My reply\nPREVIOUS CONVERSATION HISTORY\nold stuff here"
	got := CleanEmailBody(body)
	assert.Equal(t, "My reply", got)
}

func TestCleanEmailBody_Empty(t *testing.T) {
	assert.Equal(t, "", CleanEmailBody(""))
	assert.Equal(t, "", CleanEmailBody("   \n  "))
}

func TestCleanEmailBody_HTMLEntities(t *testing.T) {
	got := CleanEmailBody("Price &amp; Tax <b>due</b>")
	assert.Equal(t, "Price & Tax due", got)
}

func TestGenerateQuotedBlock_Empty(t *testing.T) {
	assert.Equal(t, "", GenerateQuotedBlock(nil))
}

func TestGenerateQuotedBlock_SingleMessage(t *testing.T) {
	msgs := []ThreadMessage{
		{Direction: "received", SenderEmail: "a@example.com", Body: "hello", Timestamp: time.Now()},
	}
	assert.Equal(t, "hello", GenerateQuotedBlock(msgs))
}

func TestGenerateQuotedBlock_DedupsAndQuotesParent(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []ThreadMessage{
		{Direction: "sent", SenderEmail: "sender@example.com", Body: "first message", Timestamp: base},
		{Direction: "sent", SenderEmail: "sender@example.com", Body: "first message", Timestamp: base.Add(10 * time.Second)}, // duplicate within same minute
		{Direction: "received", SenderEmail: "reply@example.com", Body: "second message", Timestamp: base.Add(time.Hour)},
	}
	got := GenerateQuotedBlock(msgs)
	assert.Contains(t, got, "second message")
	assert.Contains(t, got, "first message")
	assert.Contains(t, got, "wrote:")
}
