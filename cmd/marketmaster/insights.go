package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/marketmaster/internal/app"
)

func newInsightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights <keyword>",
		Short: "Show listing statistics and a suggested title for a keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			ctx := cmd.Context()
			keyword := strings.Join(args, " ")
			stats, err := a.Client.Statistics(ctx, keyword)
			if err != nil {
				return err
			}
			title, err := a.Client.SuggestedTitle(ctx, keyword)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keyword:         %s\n", keyword)
			fmt.Fprintf(out, "sellers:         %d\n", stats.SellerCount)
			fmt.Fprintf(out, "price range:     %.2f - %.2f\n", stats.PriceRange[0], stats.PriceRange[1])
			fmt.Fprintf(out, "average price:   %.2f\n", stats.AveragePrice)
			fmt.Fprintf(out, "average rating:  %.2f\n", stats.AverageRating)
			fmt.Fprintf(out, "average reviews: %.1f\n", stats.AverageReviews)
			fmt.Fprintf(out, "suggested title: %s\n", title)
			return nil
		}),
	}
}
