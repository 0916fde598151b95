// Package main is the entry point for the mailhook webhook relay.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mailhook/internal/config"
	"github.com/shineum/mailhook/internal/ingest"
	"github.com/shineum/mailhook/internal/provider"
	"github.com/shineum/mailhook/internal/provider/mailgun"
	"github.com/shineum/mailhook/internal/provider/mailtm"
	"github.com/shineum/mailhook/internal/provider/onesecmail"
	"github.com/shineum/mailhook/internal/ratelimit"
	"github.com/shineum/mailhook/internal/server"
	"github.com/shineum/mailhook/internal/sink"
	"github.com/shineum/mailhook/internal/sink/dispatch"
	"github.com/shineum/mailhook/internal/sink/graph"
	"github.com/shineum/mailhook/internal/sink/natsbus"
	"github.com/shineum/mailhook/internal/sink/ses"
	"github.com/shineum/mailhook/internal/sink/stdout"
	"github.com/shineum/mailhook/internal/smtp"
	mhtls "github.com/shineum/mailhook/internal/tls"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(os.Stdout, cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("mailhook stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("mailhook stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	out, err := selectSink(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := out.(io.Closer); ok {
		defer c.Close()
	}

	limiter, err := ratelimit.NewRedisRateLimiter(cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateLimit.Window, !cfg.RateLimit.Enabled)
	if err != nil {
		return fmt.Errorf("failed to set up rate limiter: %w", err)
	}
	defer limiter.Close()

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		tlsConfig, err = mhtls.Config(mhtls.Options{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile})
		if err != nil {
			return fmt.Errorf("failed to set up TLS: %w", err)
		}
	}

	registry := newRegistry(cfg)
	slog.Info("webhook providers registered",
		"providers", registry.Kinds(),
		"signature_verification", cfg.Webhook.MailgunSigningKey != "",
	)
	pipeline := ingest.New(registry, out)

	httpServer := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: server.NewRouter(server.Options{
			Pipeline:          pipeline,
			Limiter:           limiter,
			Domains:           cfg.Mailbox.Domains,
			TTL:               cfg.Mailbox.TTL,
			CORSOrigins:       cfg.HTTP.CORSOrigins,
			TrustProxyHeaders: cfg.HTTP.TrustProxy,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		TLSConfig:    tlsConfig,
	}

	errCh := make(chan error, 2)

	go func() {
		slog.Info("starting mailhook",
			"listen", cfg.HTTP.Listen,
			"sink", out.Name(),
			"tls", tlsConfig != nil,
			"rate_limit", cfg.RateLimit.Enabled,
			"domains", cfg.Mailbox.Domains,
		)
		var err error
		if tlsConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.SMTP.Enabled {
		smtpServer := smtp.New(smtp.ServerConfig{
			ListenAddr:     cfg.SMTP.Listen,
			Hostname:       cfg.SMTP.Hostname,
			Relay:          pipeline,
			TLSConfig:      tlsConfig,
			MaxMessageSize: cfg.SMTP.MaxMessageSize,
		})
		go func() {
			if err := smtpServer.ListenAndServe(ctx); err != nil {
				errCh <- fmt.Errorf("smtp server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	return runErr
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(w io.Writer, level string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newRegistry lists the webhook variants. Mailgun comes first so unmarked
// requests are treated as Mailgun payloads.
func newRegistry(cfg *config.Config) *provider.Registry {
	return provider.NewRegistry(
		mailgun.New(cfg.Webhook.MailgunSigningKey),
		onesecmail.New(),
		mailtm.New(),
	)
}

// selectSink chooses the downstream target. An explicit SINK wins;
// otherwise repository dispatch is used when GitHub is configured, else
// stdout.
func selectSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case "dispatch":
		return newDispatchSink(cfg)

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses sink selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES sink", "region", cfg.Sink.SES.Region, "sender", cfg.Sink.SES.Sender)
		f, err := ses.New(ctx, ses.Config{
			Region:          cfg.Sink.SES.Region,
			AccessKeyID:     cfg.Sink.SES.AccessKeyID,
			SecretAccessKey: cfg.Sink.SES.SecretAccessKey,
			Sender:          cfg.Sink.SES.Sender,
			ForwardTo:       cfg.Sink.ForwardTo,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES sink: %w", err)
		}
		return f, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph sink selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph sink", "sender", cfg.Sink.Graph.Sender)
		return graph.New(graph.Config{
			TenantID:     cfg.Sink.Graph.TenantID,
			ClientID:     cfg.Sink.Graph.ClientID,
			ClientSecret: cfg.Sink.Graph.ClientSecret,
			Sender:       cfg.Sink.Graph.Sender,
			ForwardTo:    cfg.Sink.ForwardTo,
		}), nil

	case "nats":
		if cfg.Sink.NATS.URL == "" {
			return nil, errors.New("nats sink selected but NATS_URL is required")
		}
		slog.Info("using NATS sink", "url", cfg.Sink.NATS.URL, "subject", cfg.Sink.NATS.Subject)
		s, err := natsbus.Connect(natsbus.Config{
			URL:     cfg.Sink.NATS.URL,
			Subject: cfg.Sink.NATS.Subject,
			Name:    "mailhook",
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case "stdout":
		slog.Info("using stdout sink")
		return stdout.New(), nil

	case "":
		if cfg.DispatchConfigured() {
			return newDispatchSink(cfg)
		}
		slog.Info("no sink configured, using stdout sink")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink.Kind)
	}
}

func newDispatchSink(cfg *config.Config) (sink.Sink, error) {
	d, err := dispatch.New(dispatch.Config{
		APIURL: cfg.Sink.Dispatch.APIURL,
		Repo:   cfg.Sink.Dispatch.Repo,
		Token:  cfg.Sink.Dispatch.Token,
	}, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("using repository dispatch sink", "repo", cfg.Sink.Dispatch.Repo)
	return d, nil
}
