// Package smtp is a minimal inbound SMTP listener that relays every
// accepted message through the same sink as the webhook routes.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/metrics"
)

// drainTimeout bounds how long shutdown waits for open sessions.
const drainTimeout = 30 * time.Second

// DefaultMaxMessageSize is 25 MB.
const DefaultMaxMessageSize = 26214400

// Relayer forwards one parsed message. ingest.Pipeline satisfies it.
type Relayer interface {
	Relay(ctx context.Context, msg *mail.Message) error
}

// ServerConfig holds the settings for a Server.
type ServerConfig struct {
	// ListenAddr is the TCP address, e.g. ":2525".
	ListenAddr string

	// Hostname is announced in the greeting and the EHLO reply.
	Hostname string

	Relay Relayer

	// TLSConfig enables STARTTLS. Nil means STARTTLS is not offered.
	TLSConfig *tls.Config

	MaxMessageSize int64
}

// Server accepts SMTP connections and runs one Session per connection.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener

	sessions sync.WaitGroup
}

// New creates a Server, filling in the default hostname and size limit.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{config: cfg}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// open sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP ingest listening",
		"addr", ln.Addr().String(),
		"starttls", s.config.TLSConfig != nil,
		"max_message_size", s.config.MaxMessageSize,
	)

	stop := context.AfterFunc(ctx, func() {
		slog.Info("stopping SMTP ingest")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.drain()
				return nil
			}
			slog.Warn("SMTP accept failed", "error", err)
			continue
		}

		s.sessions.Add(1)
		metrics.SMTPSessionsActive.Inc()
		go func() {
			defer s.sessions.Done()
			defer metrics.SMTPSessionsActive.Dec()
			NewSession(conn, s.config.Relay, s.config.Hostname, s.config.TLSConfig, s.config.MaxMessageSize).Handle(ctx)
		}()
	}
}

// drain waits for open sessions, at most drainTimeout.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("SMTP sessions still open after drain timeout")
	}
}

// Addr returns the bound address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
