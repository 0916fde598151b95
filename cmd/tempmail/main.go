// Package main is the disposable-inbox command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailhook/internal/config"
	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider/mailtm"
	"github.com/shineum/mailhook/internal/provider/onesecmail"
	"github.com/shineum/mailhook/internal/sink/dispatch"
	"github.com/shineum/mailhook/internal/tempmail"
)

// app is everything a subcommand needs, built once per invocation.
type app struct {
	cfg       *config.Config
	out       io.Writer
	session   *tempmail.Session
	generator *tempmail.Generator
	backup    *tempmail.BackupSource

	// echoInbox reprints the inbox after each growth notice while watching.
	echoInbox bool
}

type options struct {
	configPath  string
	sessionFile string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:           "tempmail",
		Short:         "Create a disposable address and watch its inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init(opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", "", "where the current address is kept (default ~/.tempmail/session.json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newNewCmd(a),
		newAddressCmd(a),
		newWatchCmd(a),
		newInboxCmd(a),
		newShowCmd(a),
		newForgetCmd(a),
		newStatsCmd(a),
	)
	return rootCmd
}

func (a *app) init(opts *options) error {
	setupLogger(os.Stderr, opts.logLevel)

	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	sessionFile := opts.sessionFile
	if sessionFile == "" {
		sessionFile = cfg.Client.SessionFile
	}
	if sessionFile == "" {
		sessionFile = tempmail.DefaultSessionPath()
	}
	store, err := tempmail.NewFileStore(sessionFile)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.Client.ProviderTimeout}
	oneSec := onesecmail.NewMailbox(onesecmail.NewClient(cfg.Client.OneSecMailURL, httpClient))
	mailTm := mailtm.NewMailbox(mailtm.NewClient(cfg.Client.MailTmURL, httpClient), cfg.Client.MailTmPassword)

	if cfg.Client.APIBaseURL != "" {
		a.backup = tempmail.NewBackupSource(cfg.Client.APIBaseURL, httpClient)
	}

	var genOpts []tempmail.GeneratorOption
	if cfg.DispatchConfigured() {
		d, err := dispatch.New(dispatch.Config{
			APIURL: cfg.Sink.Dispatch.APIURL,
			Repo:   cfg.Sink.Dispatch.Repo,
			Token:  cfg.Sink.Dispatch.Token,
		}, httpClient)
		if err != nil {
			return err
		}
		genOpts = append(genOpts, tempmail.WithAnnouncer(d))
	}

	a.generator = tempmail.NewGenerator(
		[]tempmail.Issuer{oneSec, mailTm},
		cfg.Mailbox.Domains,
		cfg.Mailbox.TTL,
		genOpts...,
	)

	console := tempmail.NewConsoleNotifier(a.out)
	a.session = tempmail.NewSession(
		tempmail.NewPoller([]tempmail.Source{oneSec, mailTm}, a.backup),
		tempmail.SessionOptions{
			Interval: cfg.Client.PollInterval,
			Jitter:   0.1,
			Store:    store,
			Notifier: tempmail.NotifierFunc(func(addr mail.Address, count int) {
				console.NewMessages(addr, count)
				if a.echoInbox {
					fmt.Fprintln(a.out, tempmail.RenderInbox(a.session.Messages()))
				}
			}),
		},
	)

	if _, err := a.session.Restore(); err != nil {
		slog.Warn("ignoring unreadable session", "error", err)
	}
	return nil
}

// current returns the held address, or ErrNoAddress with a hint.
func (a *app) current() (mail.Address, error) {
	addr, ok := a.session.Address()
	if !ok {
		return mail.Address{}, fmt.Errorf("%w: run `tempmail new` first", tempmail.ErrNoAddress)
	}
	return addr, nil
}

// generate creates a new address and makes it current.
func (a *app) generate(ctx context.Context) (mail.Address, error) {
	addr, outcomes, err := a.generator.Generate(ctx)
	for _, o := range outcomes {
		if !o.OK() {
			slog.Info("address step skipped", "step", o.Step, "reason", o.Reason)
		}
	}
	if err != nil {
		return mail.Address{}, err
	}
	a.session.Replace(addr)
	return addr, nil
}

// setupLogger configures the global slog logger with text output and the
// specified log level.
func setupLogger(w io.Writer, level string) {
	lv := new(slog.LevelVar)
	switch level {
	case "debug":
		lv.Set(slog.LevelDebug)
	case "info":
		lv.Set(slog.LevelInfo)
	case "error":
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelWarn)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
}

func isExpired(err error) bool {
	return errors.Is(err, tempmail.ErrAddressExpired)
}
