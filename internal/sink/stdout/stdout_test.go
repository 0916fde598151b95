package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

func TestNotify_BasicMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewWithWriter(&buf)

	msg := mail.NewMessage(mail.KindOneSecMail, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	msg.From = "sender@example.com"
	msg.To = "bob@1secmail.com"
	msg.Subject = "Monthly Report"
	msg.BodyText = "Please find the report attached."

	if err := s.Notify(context.Background(), "bob", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"Mailbox: bob\n",
		"Provider: 1secmail\n",
		"From: sender@example.com\n",
		"To: bob@1secmail.com\n",
		"Subject: Monthly Report\n",
		"Received: 2024-05-01T09:30:00Z\n",
		"Please find the report attached.\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(output, "Attachments:") {
		t.Error("output should not contain Attachments line when there are none")
	}
	if !strings.HasPrefix(output, separator) || !strings.HasSuffix(output, separator) {
		t.Error("output should be wrapped in separator lines")
	}
}

func TestNotify_HTMLFallbackAndAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewWithWriter(&buf)

	msg := mail.NewMessage(mail.KindMailgun, time.Now())
	msg.BodyHTML = "<p>only html</p>"
	msg.Attachments = []mail.Attachment{
		{Filename: "small.txt", Content: []byte("hello")},
		{Filename: "doc.pdf", Size: 2048},
		{Filename: "video.mp4", Size: 5 * 1024 * 1024},
	}

	if err := s.Notify(context.Background(), "x", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "<p>only html</p>") {
		t.Error("expected HTML body when text body is empty")
	}
	if !strings.Contains(output, "Attachments: small.txt (5 B), doc.pdf (2.0 KB), video.mp4 (5.0 MB)") {
		t.Errorf("unexpected attachments line in %q", output)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("closed")
}

func TestNotify_WriteErrorIsIgnored(t *testing.T) {
	t.Parallel()

	s := NewWithWriter(failingWriter{})
	if err := s.Notify(context.Background(), "x", mail.NewMessage(mail.KindSMTP, time.Now())); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	if s.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", s.Name(), "stdout")
	}
}
