package tempmail

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/shineum/mailhook/internal/mail"
)

var (
	noticeStyle     = lipgloss.NewStyle().Background(lipgloss.Color("28")).Foreground(lipgloss.Color("255")).Padding(0, 1)
	addressStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "244"})
	subjectStyle    = lipgloss.NewStyle().Bold(true)
	headerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	contentBoxStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(0, 1)
)

// Notifier is told when a poll cycle found new messages.
type Notifier interface {
	NewMessages(addr mail.Address, count int)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(addr mail.Address, count int)

// NewMessages calls f.
func (f NotifierFunc) NewMessages(addr mail.Address, count int) {
	f(addr, count)
}

// ConsoleNotifier prints a one-line notice per growth.
type ConsoleNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleNotifier writes notices to w.
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{w: w}
}

// NewMessages prints "N new message(s) received!".
func (n *ConsoleNotifier) NewMessages(addr mail.Address, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, noticeStyle.Render(fmt.Sprintf("📧 %d new message(s) received!", count)))
}

// RenderAddress formats an address with its provider and remaining life.
func RenderAddress(addr mail.Address, now time.Time) string {
	return fmt.Sprintf("%s  %s",
		addressStyle.Render(addr.Address),
		mutedStyle.Render(fmt.Sprintf("(%s, expires in %s)", addr.Provider, addr.Remaining(now).Round(time.Second))),
	)
}

// RenderInbox formats the message list, newest last.
func RenderInbox(msgs []mail.Message) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet.")
	}

	var b strings.Builder
	for i, m := range msgs {
		subject := m.Subject
		if subject == "" {
			subject = "(No subject)"
		}
		from := m.From
		if from == "" {
			from = "unknown"
		}
		fmt.Fprintf(&b, "%2d. %s\n    %s\n", i+1,
			subjectStyle.Render(subject),
			mutedStyle.Render(fmt.Sprintf("%s · %s · %s", from, m.Timestamp.Local().Format(time.DateTime), m.ID)),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderMessage formats one message with headers, body and attachments.
func RenderMessage(m *mail.Message) string {
	var b strings.Builder
	field := func(k, v string) {
		fmt.Fprintf(&b, "%s %s\n", headerKeyStyle.Render(k+":"), v)
	}
	field("From", m.From)
	field("To", m.To)
	field("Subject", m.Subject)
	field("Date", m.Timestamp.Local().Format(time.RFC1123Z))
	b.WriteString("\n")

	body := m.BodyText
	if body == "" {
		body = m.BodyHTML
	}
	b.WriteString(strings.TrimSpace(body))

	if len(m.Attachments) > 0 {
		b.WriteString("\n\n")
		for _, a := range m.Attachments {
			line := "📎 " + a.Filename
			if a.URL != "" {
				line += " " + mutedStyle.Render(a.URL)
			}
			b.WriteString(line + "\n")
		}
	}
	return contentBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
