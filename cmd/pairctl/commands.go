package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openclaw/pairing-relay-go/internal/config"
	"github.com/openclaw/pairing-relay-go/internal/pairclient"
	"github.com/openclaw/pairing-relay-go/internal/service"
)

const defaultServer = "http://localhost:8080"

type rootOptions struct {
	server  string
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pairctl",
		Short:         "Create, claim and watch device pairing sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	server := os.Getenv("PAIRCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "Base URL of the pairing relay (env PAIRCTL_SERVER)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log poll failures")

	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newClaimCommand(opts))
	cmd.AddCommand(newWaitCommand(opts))
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (o *rootOptions) client() *pairclient.Client {
	return pairclient.NewClient(o.server, pairclient.WithUserAgent("pairctl"))
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		ref      string
		ttl      time.Duration
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a pairing session and print its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client := opts.client()

			result, err := client.CreateSession(ctx, ref, ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "code:      %s\n", result.Code)
			fmt.Fprintf(out, "expiresAt: %s\n", result.ExpiresAt.Format(time.RFC3339))
			if result.ClaimURL != "" {
				fmt.Fprintf(out, "claimUrl:  %s\n", result.ClaimURL)
			}

			if !wait {
				return nil
			}
			return waitFor(ctx, out, client, result.Code, interval)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Initiator reference stored with the session")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Session lifetime (server default when zero)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the session is claimed or expires")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultPollInterval, "Polling interval for --wait")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status CODE",
		Short: "Print the current status of a pairing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().GetStatus(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newClaimCommand(opts *rootOptions) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "claim CODE",
		Short: "Claim a pairing session as the responder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref == "" {
				ref = "pairctl-" + uuid.NewString()
			}
			if err := opts.client().Claim(commandContext(cmd), args[0], ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed as %s\n", ref)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Responder reference (random device id when empty)")
	return cmd
}

func newWaitCommand(opts *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait CODE",
		Short: "Poll a pairing session until it is claimed or expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return waitFor(ctx, cmd.OutOrStdout(), opts.client(), args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", config.DefaultPollInterval, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (no limit when zero)")
	return cmd
}

func waitFor(ctx context.Context, out io.Writer, fetcher pairclient.StatusFetcher, code string, interval time.Duration) error {
	poller := pairclient.NewPoller(fetcher, code,
		pairclient.WithInterval(interval),
		pairclient.OnUpdate(func(res *service.SessionStatusResult) {
			fmt.Fprintf(out, "status:    %s\n", res.Status)
		}),
	)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	select {
	case <-poller.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := poller.Err(); err != nil {
		return err
	}
	if poller.Result() == nil {
		return ctx.Err()
	}
	return nil
}

func printStatus(out io.Writer, status *service.SessionStatusResult) {
	fmt.Fprintf(out, "status:    %s\n", status.Status)
	fmt.Fprintf(out, "expiresAt: %s\n", status.ExpiresAt.Format(time.RFC3339))
	if status.ClaimedAt != nil {
		fmt.Fprintf(out, "claimedAt: %s\n", status.ClaimedAt.Format(time.RFC3339))
	}
}
