package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/app"
	"github.com/JakeFAU/marketmaster/internal/config"
	"github.com/JakeFAU/marketmaster/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 5 * time.Second

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = app.New

type rootOptions struct {
	cfgFile   string
	searchURL string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "marketmaster",
		Short: "Search marketplace listings and follow background crawls.",
		Long: `marketmaster searches the storefront backend for product listings.
Keywords the backend has not crawled yet are tracked for this session and
announced over a push channel once the crawl completes.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if opts.searchURL != "" {
				cfg.App.SearchURL = opts.searchURL
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cmd.Context(), cfg, app.Options{
				Logger:     logger,
				Output:     cmd.OutOrStdout(),
				Registerer: prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize client services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML or TOML)")
	cmd.PersistentFlags().StringVar(&opts.searchURL, "url", "", "navigable search page URL; its keyword parameter seeds a search")

	cmd.AddCommand(
		newSearchCmd(),
		newWatchCmd(),
		newPendingCmd(),
		newSavedCmd(),
		newSignUpCmd(),
		newSignInCmd(),
		newSignOutCmd(),
		newProfileCmd(),
		newInsightsCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("client services not initialized")
	}
	return a, nil
}

// withApp resolves the App for a subcommand and shuts it down afterwards,
// whether or not the command failed. Events still queued are flushed first.
func withApp(run func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if cerr := a.Close(ctx); cerr != nil {
				err = errors.Join(err, cerr)
			}
			_ = a.Logger.Sync()
		}()
		return run(cmd, args, a)
	}
}
