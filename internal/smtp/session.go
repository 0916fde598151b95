package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/metrics"
	"github.com/shineum/mailhook/internal/parser"
	"github.com/shineum/mailhook/internal/requestid"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxRecipients bounds RCPT TO per transaction.
const maxRecipients = 100

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine. AUTH is not offered; the listener only
// accepts mail for the disposable domains it fronts.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	relay    Relayer
	hostname string
	maxSize  int64

	// TLS support
	tlsConfig *tls.Config
	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection. A
// non-positive maxSize uses DefaultMaxMessageSize.
func NewSession(conn net.Conn, relay Relayer, hostname string, tlsConfig *tls.Config, maxSize int64) *Session {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		relay:     relay,
		hostname:  hostname,
		maxSize:   maxSize,
		tlsConfig: tlsConfig,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mailhook", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.writeLine("502 AUTH not supported")
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	s.state = stateGreeted

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.maxSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection. A failed handshake ends the
// session.
func (s *Session) handleSTARTTLS() bool {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return false
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Warn("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.resetTransaction()
	s.state = stateConnected
	return false
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	// The null reverse-path <> is allowed for bounces.
	s.mailFrom = extractAddress(arg[5:])
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT accepts a recipient only when a mailbox key can be derived
// from it.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if _, err := mail.LocalPart(addr); err != nil {
		metrics.SMTPMessagesTotal.WithLabelValues("rejected").Inc()
		s.writeLine("550 No such mailbox: %s", addr)
		return
	}
	if len(s.rcptTo) >= maxRecipients {
		s.writeLine("452 Too many recipients")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message, parses it and relays one copy per
// recipient.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		slog.Warn("error reading DATA", "error", err)
		return
	}
	if tooLarge {
		metrics.SMTPMessagesTotal.WithLabelValues("too_large").Inc()
		s.writeLine("552 Message exceeds maximum size of %d bytes", s.maxSize)
		s.resetTransaction()
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("failed to parse message", "error", err)
		metrics.SMTPMessagesTotal.WithLabelValues("rejected").Inc()
		s.writeLine("550 Failed to process message")
		s.resetTransaction()
		return
	}
	msg.Provider = mail.KindSMTP
	if msg.From == "" {
		msg.From = s.mailFrom
	}

	ctx = requestid.NewContext(ctx, uuid.New().String())
	for _, rcpt := range s.rcptTo {
		copied := *msg
		copied.To = rcpt
		if err := s.relay.Relay(ctx, &copied); err != nil {
			slog.Error("smtp relay failed",
				"request_id", requestid.FromContext(ctx),
				"recipient", rcpt,
				"error", err,
			)
			metrics.SMTPMessagesTotal.WithLabelValues("failed").Inc()
			s.writeLine("451 Temporary failure, please try again later")
			s.resetTransaction()
			return
		}
	}

	metrics.SMTPMessagesTotal.WithLabelValues("relayed").Inc()
	s.writeLine("250 OK message accepted")
	s.resetTransaction()
}

// readData reads up to the lone "." terminator, undoing dot-stuffing. Past
// maxSize the rest is drained and discarded.
func (s *Session) readData() ([]byte, bool, error) {
	var buf strings.Builder
	tooLarge := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.maxSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}
	return []byte(buf.String()), tooLarge, nil
}

// resetTransaction clears the current mail transaction without touching
// the greeting.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats. ESMTP parameters after the
// address are dropped.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}

	addr, _, _ := strings.Cut(s, " ")
	return addr
}
