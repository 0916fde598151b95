package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/mailhook/internal/tempmail"
)

func newNewCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new disposable address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := a.generate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tempmail.RenderAddress(addr, time.Now()))
			if watch {
				return a.watch(cmd.Context())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling the new address")
	return cmd
}

func newAddressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the current address",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			addr, err := a.current()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tempmail.RenderAddress(addr, time.Now()))
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the current address until interrupted",
		Long:  "Poll the current address until interrupted. A new address is generated when none is held.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := a.session.Address(); !ok {
				addr, err := a.generate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, tempmail.RenderAddress(addr, time.Now()))
			}
			return a.watch(cmd.Context())
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	addr, err := a.current()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Watching %s every %s, press Ctrl+C to stop.\n", addr.Address, a.cfg.Client.PollInterval)
	a.echoInbox = true

	err = a.session.Watch(ctx)
	switch {
	case isExpired(err):
		fmt.Fprintln(a.out, "Address expired. Run `tempmail new` for another one.")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func newInboxCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Poll once and list the messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := a.current()
			if err != nil {
				return err
			}
			res, err := a.session.PollOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tempmail.RenderAddress(addr, time.Now()))
			if res.Failed {
				fmt.Fprintln(a.out, "Could not reach any provider, showing the last known messages.")
			}
			fmt.Fprintln(a.out, tempmail.RenderInbox(res.Messages))
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <number|id>",
		Short: "Show the full content of one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.session.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tempmail.RenderMessage(msg))
			return nil
		},
	}
}

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Drop the current address and its messages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := a.session.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Session cleared.")
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the relay's published counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.backup == nil {
				return errors.New("API_BASE_URL is not configured")
			}
			stats, err := a.backup.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Addresses: %d\nMessages:  %d\n", stats.TotalAddresses, stats.TotalMessages)
			return nil
		},
	}
}
