package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/app"
)

type credentialOptions struct {
	name     string
	email    string
	password string
}

func (o *credentialOptions) bind(cmd *cobra.Command, withName bool) {
	if withName {
		cmd.Flags().StringVar(&o.name, "name", "", "display name")
	}
	cmd.Flags().StringVar(&o.email, "email", "", "account email")
	cmd.Flags().StringVar(&o.password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

func newSignUpCmd() *cobra.Command {
	opts := &credentialOptions{}
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			if strings.TrimSpace(opts.name) == "" {
				return errors.New("--name is required")
			}
			msg, err := a.Client.SignUp(cmd.Context(), opts.name, opts.email, opts.password)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "account created"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		}),
	}
	opts.bind(cmd, true)
	return cmd
}

func newSignInCmd() *cobra.Command {
	opts := &credentialOptions{}
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			ctx := cmd.Context()
			token, err := a.Client.SignIn(ctx, opts.email, opts.password)
			if err != nil {
				return err
			}
			if err := a.Profile.SetToken(ctx, token); err != nil {
				return err
			}
			if err := a.Saved.Load(ctx); err != nil {
				a.Logger.Warn("load saved products after sign-in", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%d saved)\n", opts.email, a.Saved.Len())
			return nil
		}),
	}
	opts.bind(cmd, false)
	return cmd
}

func newSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			if err := a.Profile.ClearToken(cmd.Context()); err != nil {
				return err
			}
			a.Saved.Reset()
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		}),
	}
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			p, err := a.Client.Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "name:  %s\nemail: %s\n", p.Name, p.Email)
			return nil
		}),
	}
}
