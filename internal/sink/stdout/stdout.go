// Package stdout implements a Sink that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

const separator = "========================================\n"

// Sink prints each message in a human-readable block.
type Sink struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Sink writing to os.Stdout.
func New() *Sink {
	return &Sink{writer: os.Stdout}
}

// NewWithWriter creates a Sink writing to w.
func NewWithWriter(w io.Writer) *Sink {
	return &Sink{writer: w}
}

// Notify prints msg. It always succeeds.
func (s *Sink) Notify(_ context.Context, addressKey string, msg *mail.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Mailbox: %s\n", addressKey)
	fmt.Fprintf(&b, "Provider: %s\n", msg.Provider)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Received: %s\n", msg.Timestamp.Format(time.RFC3339))
	b.WriteString("Body:\n")
	b.WriteString(bodyOf(msg) + "\n")

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(attachmentSize(att))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}

	b.WriteString(separator)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A failed console write is not a delivery failure.
	_, _ = io.WriteString(s.writer, b.String())
	return nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "stdout"
}

func bodyOf(msg *mail.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.BodyHTML
}

func attachmentSize(att mail.Attachment) int64 {
	if att.Size > 0 {
		return att.Size
	}
	return int64(len(att.Content))
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
