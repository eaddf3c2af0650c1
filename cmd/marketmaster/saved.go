package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/marketmaster/internal/app"
	"github.com/JakeFAU/marketmaster/internal/market"
)

func newSavedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage the signed-in user's saved products",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved products",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
				if err := a.Saved.Load(cmd.Context()); err != nil {
					return err
				}
				return printProducts(cmd.OutOrStdout(), a.Saved.Products())
			}),
		},
		&cobra.Command{
			Use:   "add <product-id>",
			Short: "Save a product",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
				id, err := parseProductID(args[0])
				if err != nil {
					return err
				}
				res := a.Saved.Save(cmd.Context(), market.Product{ID: id})
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				switch {
				case res.Success, res.Duplicate:
					return nil
				case res.Unauthorized:
					return errors.New("session expired; run signin again")
				default:
					return fmt.Errorf("save product %d failed", id)
				}
			}),
		},
		&cobra.Command{
			Use:   "remove <product-id>",
			Short: "Remove a saved product",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
				id, err := parseProductID(args[0])
				if err != nil {
					return err
				}
				if err := a.Saved.Remove(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed product %d\n", id)
				return nil
			}),
		},
	)
	return cmd
}

func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}
