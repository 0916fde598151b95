package tempmail

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shineum/mailhook/internal/mail"
)

func TestConsoleNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewConsoleNotifier(&buf).NewMessages(mail.Address{Address: "bob@example.com"}, 3)

	assert.Contains(t, buf.String(), "📧 3 new message(s) received!")
}

func TestNotifierFunc(t *testing.T) {
	t.Parallel()

	var got int
	var n Notifier = NotifierFunc(func(_ mail.Address, count int) { got = count })
	n.NewMessages(mail.Address{}, 4)
	assert.Equal(t, 4, got)
}

func TestRenderAddress(t *testing.T) {
	t.Parallel()

	now := time.Now()
	addr, err := mail.NewAddress("bob@1secmail.com", mail.KindOneSecMail, now, time.Hour)
	assert.NoError(t, err)

	out := RenderAddress(addr, now.Add(30*time.Minute))
	assert.Contains(t, out, "bob@1secmail.com")
	assert.Contains(t, out, "1secmail")
	assert.Contains(t, out, "30m0s")
}

func TestRenderInbox(t *testing.T) {
	t.Parallel()

	assert.Contains(t, RenderInbox(nil), "No messages yet.")

	out := RenderInbox([]mail.Message{
		{ID: "m1", From: "ann@example.com", Subject: "First"},
		{ID: "m2"},
	})
	assert.Contains(t, out, " 1. ")
	assert.Contains(t, out, "First")
	assert.Contains(t, out, "ann@example.com")
	assert.Contains(t, out, " 2. ")
	assert.Contains(t, out, "(No subject)")
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "m2")
}

func TestRenderMessage(t *testing.T) {
	t.Parallel()

	out := RenderMessage(&mail.Message{
		From:     "ann@example.com",
		To:       "bob@example.com",
		Subject:  "Report",
		BodyHTML: "<p>html only</p>",
		Attachments: []mail.Attachment{
			{Filename: "report.pdf", URL: "https://files.example.com/report.pdf"},
		},
	})

	for _, want := range []string{"ann@example.com", "bob@example.com", "Report", "<p>html only</p>", "report.pdf"} {
		assert.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
}
