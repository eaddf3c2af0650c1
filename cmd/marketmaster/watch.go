package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/app"
)

type watchOptions struct {
	statusPort int
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Listen for crawl-completion notifications",
		Long: `Opens the notification channel for this session and prints every
notification until interrupted. With search.auto_resume enabled the keyword
of each notification is searched again.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			return runWatch(cmd, a, opts)
		}),
	}
	cmd.Flags().IntVar(&opts.statusPort, "status-port", 0, "serve the local status API on this port (overrides status.port)")
	return cmd
}

func runWatch(cmd *cobra.Command, a *app.App, opts *watchOptions) error {
	ctx := cmd.Context()
	sessionID, err := a.Profile.SessionID(ctx)
	if err != nil {
		return err
	}
	if err := a.Channel.Connect(sessionID); err != nil {
		return fmt.Errorf("connect notifications: %w", err)
	}

	out := cmd.OutOrStdout()
	pending, err := a.Profile.PendingKeywords(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching session %s (%d pending)\n", sessionID, len(pending))
	for _, kw := range pending {
		fmt.Fprintf(out, "  pending: %s\n", kw)
	}

	port := a.Config.Status.Port
	if opts.statusPort > 0 {
		port = opts.statusPort
	}
	if a.Config.Status.Enabled || opts.statusPort > 0 {
		// Returns once ctx is cancelled and the server has shut down.
		return a.StatusServer().ListenAndServe(ctx, ":"+strconv.Itoa(port))
	}

	<-ctx.Done()
	a.Logger.Info("watch stopped", zap.Int("unread", a.Channel.Unread()))
	return nil
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List keywords still waiting on a crawl",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			keywords, err := a.Profile.PendingKeywords(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keywords) == 0 {
				fmt.Fprintln(out, "no pending keywords")
				return nil
			}
			for _, kw := range keywords {
				fmt.Fprintln(out, kw)
			}
			return nil
		}),
	}
}
